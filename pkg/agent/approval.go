package agent

import (
	"context"

	"github.com/lacehq/lace/pkg/approval"
	"github.com/lacehq/lace/pkg/eventbus"
)

// BridgeApprovalRequests wraps an approval prompt so every request is also
// published on the bus before the user is asked. UIs subscribe to render
// the pending approval; the wrapped func still supplies the decision.
func BridgeApprovalRequests(bus *eventbus.Bus, request approval.RequestFunc) approval.RequestFunc {
	if request == nil {
		return nil
	}
	return func(ctx context.Context, req approval.Request) (approval.Decision, error) {
		bus.Publish(eventbus.TopicApprovalRequest, req)
		return request(ctx, req)
	}
}
