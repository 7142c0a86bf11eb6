package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantrail/twapbook/internal/model"
)

func TestToVenues_ConvertsEveryName(t *testing.T) {
	venues := toVenues([]string{"Binance", "Coinbase"})
	assert.Equal(t, []model.Venue{model.VenueBinance, model.VenueCoinbase}, venues)
}

func TestSendAck_UsesSuccessTypeWhenOK(t *testing.T) {
	s := newTestSession()
	s.sendAck("BTCUSDT", true, "subscribe_success", "subscribe_failure")

	msg := <-s.send
	assert.Contains(t, string(msg), `"type":"subscribe_success"`)
	assert.Contains(t, string(msg), `"symbol":"BTCUSDT"`)
}

func TestSendAck_UsesFailureTypeWhenNotOK(t *testing.T) {
	s := newTestSession()
	s.sendAck("BTCUSDT", false, "subscribe_success", "subscribe_failure")

	msg := <-s.send
	assert.Contains(t, string(msg), `"type":"subscribe_failure"`)
}

func TestSendWelcome_QueuesWelcomeFrame(t *testing.T) {
	s := newTestSession()
	s.sendWelcome()

	msg := <-s.send
	assert.Contains(t, string(msg), `"type":"welcome"`)
	assert.Contains(t, string(msg), "Welcome to Twap-Trading-API WebSocket")
}
