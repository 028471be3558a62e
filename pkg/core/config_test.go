package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSetDefaultsFillsLoggerAndRegistry(t *testing.T) {
	var c Config
	c.setDefaults()

	assert.NotNil(t, c.Logger)
	assert.Equal(t, int64(defaultBufferBytes), c.Registry.BufferBytes)
}

func TestConfigEmitWithNilNotifierIsNoop(t *testing.T) {
	var c Config
	assert.NotPanics(t, func() {
		c.emit(HookEvent{Kind: HookEventCreated})
	})
}

func TestConfigEmitForwardsToNotifier(t *testing.T) {
	var got HookEvent
	c := Config{Notifier: NotifierFunc(func(e HookEvent) { got = e })}

	tok := testToken(t)
	c.emit(HookEvent{Kind: HookEventCompleted, Token: tok, Offset: 5, Time: time.Now()})

	require.Equal(t, HookEventCompleted, got.Kind)
	assert.True(t, got.Token.Equal(tok))
	assert.Equal(t, int64(5), got.Offset)
}
