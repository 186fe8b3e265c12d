package pubsub

import (
	"testing"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	if got := resourceName("proj", "topics", "sd-jobs"); got != "projects/proj/topics/sd-jobs" {
		t.Fatalf("unexpected topic name %s", got)
	}
	full := "projects/other/subscriptions/sd-orders-sub"
	if got := resourceName("proj", "subscriptions", full); got != full {
		t.Fatalf("full names should pass through, got %s", got)
	}
}

func TestSubscriptionNamesSkipsBlanks(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{
		JobsSubscription:   "jobs",
		OrdersSubscription: " ",
		EmailSubscription:  "email",
	})
	if len(names) != 2 || names[0] != "jobs" || names[1] != "email" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil || c.Subscription("x") != nil {
		t.Fatalf("nil client should return nil handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
