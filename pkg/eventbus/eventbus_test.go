package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := New()

	var order []int
	bus.Subscribe("topic", func(topic string, payload any) {
		order = append(order, 1)
	})
	bus.Subscribe("topic", func(topic string, payload any) {
		order = append(order, 2)
	})
	bus.Subscribe("topic", func(topic string, payload any) {
		order = append(order, 3)
	})

	bus.Publish("topic", nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishOnlyReachesSubscribedTopic(t *testing.T) {
	bus := New()

	got := 0
	bus.Subscribe("a", func(topic string, payload any) { got++ })

	bus.Publish("b", nil)
	assert.Equal(t, 0, got)

	bus.Publish("a", nil)
	assert.Equal(t, 1, got)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := New()

	got := 0
	unsubscribe := bus.Subscribe("topic", func(topic string, payload any) { got++ })

	bus.Publish("topic", nil)
	unsubscribe()
	unsubscribe() // second call is a no-op
	bus.Publish("topic", nil)

	assert.Equal(t, 1, got)
}

func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	bus := New()

	var topics []string
	unsubscribe := bus.SubscribeAll(func(topic string, payload any) {
		topics = append(topics, topic)
	})
	defer unsubscribe()

	bus.Publish("a", nil)
	bus.Publish("b", nil)
	assert.Equal(t, []string{"a", "b"}, topics)
}

func TestWildcardRunsAfterTopicSubscribers(t *testing.T) {
	bus := New()

	var order []string
	bus.SubscribeAll(func(topic string, payload any) {
		order = append(order, "all")
	})
	bus.Subscribe("topic", func(topic string, payload any) {
		order = append(order, "topic")
	})

	bus.Publish("topic", nil)
	assert.Equal(t, []string{"topic", "all"}, order)
}

func TestPayloadPassthrough(t *testing.T) {
	bus := New()

	var got any
	bus.Subscribe("topic", func(topic string, payload any) { got = payload })

	payload := struct{ N int }{42}
	bus.Publish("topic", payload)
	assert.Equal(t, payload, got)
}

func TestConcurrentSubscribePublish(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	count := 0
	bus.Subscribe("topic", func(topic string, payload any) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish("topic", j)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, count)
}
