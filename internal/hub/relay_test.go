package hub

import "testing"

type fakeSubscriber struct {
	id   string
	got  []Update
	fail error
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(u Update) error {
	s.got = append(s.got, u)
	return s.fail
}

func TestRelaySingleSlotReplacement(t *testing.T) {
	relay := NewRelay(nil, nil)
	old := &fakeSubscriber{id: "a"}
	relay.Subscribe(old)

	relay.Publish(Update{Type: "value", Board: "B1", Sensor: "s1", Value: 1})
	if len(old.got) != 1 {
		t.Fatalf("subscriber should receive updates")
	}

	neu := &fakeSubscriber{id: "b"}
	if prev := relay.Subscribe(neu); prev != old {
		t.Fatalf("subscribe must return the replaced subscriber")
	}
	relay.Publish(Update{Type: "value", Board: "B1", Sensor: "s1", Value: 2})
	if len(old.got) != 1 {
		t.Fatalf("replaced subscriber must stop receiving")
	}
	if len(neu.got) != 1 {
		t.Fatalf("new subscriber must receive")
	}

	// 被替换的旧连接关闭时不得清掉新订阅
	relay.Unsubscribe("a")
	relay.Publish(Update{Type: "value", Board: "B1", Sensor: "s1", Value: 3})
	if len(neu.got) != 2 {
		t.Fatalf("stale unsubscribe must not drop the live subscriber")
	}

	relay.Unsubscribe("b")
	relay.Publish(Update{Type: "value", Board: "B1", Sensor: "s1", Value: 4})
	if len(neu.got) != 2 {
		t.Fatalf("unsubscribed client must stop receiving")
	}
}
