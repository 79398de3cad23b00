package bt

// State is the link state owned by the link state machine.
type State int

const (
	StateNoAdapter State = iota
	StateAdapterOff
	StateDisconnected
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateNoAdapter:
		return "no-adapter"
	case StateAdapterOff:
		return "adapter-off"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// InitialState derives the starting link state from the adapter status.
func InitialState(s AdapterStatus) State {
	switch s {
	case AdapterAbsent:
		return StateNoAdapter
	case AdapterDisabled:
		return StateAdapterOff
	default:
		return StateDisconnected
	}
}

// Kind discriminates consumer notifications.
type Kind int

const (
	KindScanResult Kind = iota
	KindDiscoveryStarted
	KindDiscoveryFinished
	KindConnecting
	KindConnected
	KindConnectFailed
	KindDisconnected
)

func (k Kind) String() string {
	return [...]string{
		"scan-result",
		"discovery-started",
		"discovery-finished",
		"connecting",
		"connected",
		"connect-failed",
		"disconnected",
	}[k]
}

// Notification is one message on the consumer notification channel.
// Discovery notifications leave State at its zero value; link notifications
// carry the state entered by the transition. Device is set for scan results
// and for link transitions that concern a peer.
type Notification struct {
	Kind   Kind
	State  State
	Device Device
}

// DataHandler receives the bytes read from the connected peer. The slice is
// owned by the handler.
type DataHandler func(peer Device, data []byte)

// EventType classifies inbound platform events.
type EventType int

const (
	EventDeviceFound EventType = iota
	EventDiscoveryStarted
	EventDiscoveryFinished
	EventLinkConnected
	EventLinkDisconnected
	EventAdapterPowered
)

// Event is an inbound platform event.
type Event struct {
	Type    EventType
	Device  Device // DeviceFound, LinkConnected, LinkDisconnected
	Powered bool   // AdapterPowered
}
