package protocol

// Observer receives every command written to and every reply read from a
// control channel, in order. Implementations must not block.
type Observer interface {
	CommandSent(line string)
	ResponseReceived(resp *Response)
}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) CommandSent(line string) {
	for _, obs := range o {
		if obs != nil {
			obs.CommandSent(line)
		}
	}
}

func (o Observers) ResponseReceived(resp *Response) {
	for _, obs := range o {
		if obs != nil {
			obs.ResponseReceived(resp)
		}
	}
}

type nopObserver struct{}

func (nopObserver) CommandSent(string)          {}
func (nopObserver) ResponseReceived(*Response) {}
