package shutdown

import (
	"errors"
	"testing"
	"time"

	"changemap/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closer struct {
	name  string
	calls int
	err   error
	block chan struct{}
	order *[]string
}

func (c *closer) Name() string { return c.name }

func (c *closer) Close() error {
	if c.block != nil {
		<-c.block
	}
	c.calls++
	if c.order != nil {
		*c.order = append(*c.order, c.name)
	}
	return c.err
}

func TestShutdownReleasesInReverseOrder(t *testing.T) {
	m := NewManager(logger.NewNop())

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		m.Register(&closer{name: name, order: &order})
	}

	m.Shutdown()
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Error(t, m.Context().Err())
}

func TestShutdownIsIdempotent(t *testing.T) {
	m := NewManager(logger.NewNop())
	c := &closer{name: "extractor", err: errors.New("already closed")}
	m.Register(c)

	m.Shutdown()
	m.Shutdown()
	assert.Equal(t, 1, c.calls)
}

func TestShutdownTimesOutSlowComponent(t *testing.T) {
	m := NewManager(logger.NewNop())
	m.timeout = 10 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	m.Register(&closer{name: "stuck", block: release})

	start := time.Now()
	m.Shutdown()
	require.Less(t, time.Since(start), time.Second)
}
