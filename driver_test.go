package echoping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Drive(t *testing.T) {
	a := assert.New(t)
	sink, stats := Track(func(Event) {})
	p := startActive(a, Config{
		Host:      "localhost",
		Resolver:  v4Resolver(),
		Transport: Loopback(time.Millisecond),
		Sink:      sink,
	})
	if p == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go Drive(ctx, p, 5*time.Millisecond)

	a.Eventually(func() bool {
		return stats.Calculate().NumReceived >= 3
	}, time.Second, time.Millisecond)
	cancel()

	p.Stop()
	<-p.Done()

	report := stats.Calculate()
	a.GreaterOrEqual(report.NumSent, 3)
	a.Equal(0, report.NumSendFailed)
}

func Test_Drive_StopsWithSession(t *testing.T) {
	a := assert.New(t)
	p := startActive(a, Config{
		Host:      "localhost",
		Resolver:  v4Resolver(),
		Transport: Loopback(time.Millisecond),
		Sink:      func(Event) {},
	})
	if p == nil {
		return
	}

	finished := make(chan struct{})
	go func() {
		Drive(context.Background(), p, 5*time.Millisecond)
		close(finished)
	}()

	p.Stop()
	select {
	case <-finished:
	case <-time.After(time.Second):
		a.Fail("driver must exit once the session ends")
	}
}
