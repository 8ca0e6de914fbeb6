package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raffitch/flowmeter/pkg/run"
)

// Push messages. Every frame sent to a client carries a "type"
// discriminator so a browser client can switch on it.
type liveMessage struct {
	Type   string `json:"type"`
	Pulses uint64 `json:"pulses"`
}

type statusMessage struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type ackMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type errorMessage struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type calMessage struct {
	Type           string  `json:"type"`
	Delta          uint64  `json:"delta"`
	Elapsed        float64 `json:"elapsed"`
	PulsesPerLiter float64 `json:"ppl"`
	Volume         float64 `json:"volume"`
}

func newLiveMessage(pulses uint64) liveMessage {
	return liveMessage{Type: "live", Pulses: pulses}
}

func newStatusMessage(msg string) statusMessage {
	return statusMessage{Type: "status", Msg: msg}
}

func newAckMessage(status string) ackMessage {
	return ackMessage{Type: "ack", Status: status}
}

func newErrorMessage(msg string) errorMessage {
	return errorMessage{Type: "error", Msg: msg}
}

func newCalMessage(res run.Result) calMessage {
	return calMessage{
		Type:           "cal",
		Delta:          res.Delta,
		Elapsed:        res.Elapsed,
		PulsesPerLiter: res.PulsesPerLiter,
		Volume:         res.Volume,
	}
}

// request is a parsed client command.
type request struct {
	Cmd    string  `json:"cmd"`
	Volume float64 `json:"volume"`
}

// parseRequest decodes a client text frame. Clients send either a JSON
// object like {"cmd":"start","volume":0.5} or a bare token ("stop",
// "reset") for the argument-less commands.
func parseRequest(data []byte) (request, error) {
	switch strings.TrimSpace(string(data)) {
	case "stop":
		return request{Cmd: "stop"}, nil
	case "reset":
		return request{Cmd: "reset"}, nil
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return request{}, fmt.Errorf("parse client request: %w", err)
	}
	if req.Cmd == "" {
		return request{}, errors.New("client request has no cmd")
	}
	return req, nil
}
