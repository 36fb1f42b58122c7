package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAnnouncer_PublishesOncePerChannel(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	var got Announcement
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		b, err := m.Value.Encode()
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, &got); err != nil {
			return err
		}
		if m.Topic != "channels" {
			return errors.New("wrong topic " + m.Topic)
		}
		return nil
	})

	a := NewAnnouncerWithProducer(discard(), prod, AnnouncerConfig{Topic: "channels", Queue: 4})
	ev := Announcement{Channel: For("db", "select 1"), Tenant: "localhost", LayergroupID: "abc:1"}
	a.Publish(ev)
	a.Publish(ev)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got.Channel != ev.Channel || got.LayergroupID != "abc:1" || got.TS.IsZero() {
		t.Fatalf("announcement=%+v", got)
	}
}

func TestAnnouncer_ProducerErrorDoesNotBlock(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputAndFail(errors.New("broker down"))

	a := NewAnnouncerWithProducer(discard(), prod, AnnouncerConfig{Topic: "channels"})
	a.Publish(Announcement{Channel: "c", Tenant: "t", LayergroupID: "x"})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAnnouncer_PublishAfterCloseDrops(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	a := NewAnnouncerWithProducer(discard(), prod, AnnouncerConfig{Topic: "channels"})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	a.Publish(Announcement{Channel: "c", Tenant: "t", LayergroupID: "x"})
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAnnouncer_ConcurrentPublishAndClose(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	for i := 0; i < 8; i++ {
		prod.ExpectInputAndSucceed()
	}
	a := NewAnnouncerWithProducer(discard(), prod, AnnouncerConfig{Topic: "channels", Queue: 64})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Publish(Announcement{Channel: fmt.Sprintf("c%d", i), Tenant: "t", LayergroupID: "x"})
		}(i)
	}
	wg.Wait()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	a.Publish(Announcement{Channel: "late", Tenant: "t", LayergroupID: "x"})
}
