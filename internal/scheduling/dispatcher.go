package scheduling

import "context"

// Dispatcher delivers notification intents to the outside world. The core
// only decides what to send and when; delivery, retries against providers,
// and rendering live behind this interface.
type Dispatcher interface {
	Send(ctx context.Context, channel ReminderChannel, recipient string, payload []byte) error
}
