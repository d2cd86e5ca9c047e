package main

import (
	"errors"

	"github.com/cpplab/closedloop/internal/config"
	"github.com/cpplab/closedloop/internal/daq"
	"github.com/cpplab/closedloop/internal/laser"
	"github.com/cpplab/closedloop/internal/monitoring"
)

const simulatedPort = "simulated"

// hardware opens the DAQ bridge on demand and remembers it so the port can
// be closed once the session is over.
type hardware struct {
	cfg *config.Config
	log *monitoring.Logger

	sim    *daq.SimulatedDevice
	bridge *daq.Bridge
}

func newHardware(cfg *config.Config, log *monitoring.Logger) *hardware {
	return &hardware{cfg: cfg, log: log}
}

// Open implements laser.Opener.
func (h *hardware) Open() (laser.Hardware, error) {
	if h.bridge != nil {
		return h.bridge, nil
	}

	opener := daq.PortOpener(daq.Open)
	port := h.cfg.GetDAQPort()
	if h.cfg.GetDAQSimulate() {
		h.sim = daq.NewSimulatedDevice()
		opener = h.sim.OpenPort()
		port = simulatedPort
	} else if port == "" {
		return nil, errors.New("laser_control.daq.port is required for hardware modes")
	}

	b, err := daq.Connect(opener, port, h.cfg.DAQPortOptions(), h.cfg.GetDAQTimeout(), h.log)
	if err != nil {
		return nil, err
	}
	h.bridge = b
	return b, nil
}

func (h *hardware) Close() error {
	if h.bridge == nil {
		return nil
	}
	b := h.bridge
	h.bridge = nil
	return b.Close()
}
