package sender

// State is one of the sender connection's four lifecycle states.
type State uint8

const (
	StateClosed State = iota
	StateSynSent
	StateEstablished
	StateFinSent
)

func (s State) String() string {
	switch s {
	case StateSynSent:
		return "SYN_SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinSent:
		return "FIN_SENT"
	default:
		return "CLOSED"
	}
}
