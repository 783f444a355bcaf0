package notify

import "context"

// Noop satisfies the notifier and identity interfaces without delivering
// anything. Used when DingTalk integration is disabled.
type Noop struct{}

func (Noop) NotifySubmit(context.Context, string, string, string, string, int) error {
	return nil
}

func (Noop) NotifyApprove(context.Context, string, string, string, int) error {
	return nil
}

func (Noop) NotifyReject(context.Context, string, string, string, int, string) error {
	return nil
}

func (Noop) LookupUserID(context.Context, string, string) (string, error) {
	return "", nil
}
