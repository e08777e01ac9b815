package server

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/skypro1111/headband-recorder/internal/config"
	"github.com/skypro1111/headband-recorder/internal/protocol"
)

func TestUDPServerRelaysFrames(t *testing.T) {
	cfg := &config.ServerConfig{
		UDPPort:     0,
		BindAddress: "127.0.0.1",
		BufferSize:  2048,
		Workers:     2,
		QueueSize:   64,
	}
	rec := &fakeRecorder{}
	ingest := NewIngest(IngestConfig{}, testLogger(), nil, rec, nil)
	srv := NewUDPServer(cfg, testLogger(), nil, ingest)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	datagrams := [][]byte{
		append([]byte{byte(protocol.SensorEEG)}, createTestEEGPayload()...),
		append([]byte{byte(protocol.SensorPPG)}, make([]byte, protocol.PPGFrameSize)...),
		{byte(protocol.SensorBattery), 55},
		{byte(protocol.SensorPPG), 1, 2, 3}, // malformed
		{0x42},                              // unknown sensor
	}
	for _, d := range datagrams {
		if _, err := conn.Write(d); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats := srv.GetStatistics()
		if stats.FramesReceived+stats.DatagramsDropped >= uint64(len(datagrams)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for datagrams, stats %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := srv.GetStatistics()
	if stats.DatagramsReceived != uint64(len(datagrams)) {
		t.Errorf("Expected %d datagrams received, got %d", len(datagrams), stats.DatagramsReceived)
	}
	if stats.FramesDecoded != 3 || stats.ParseErrors != 2 {
		t.Errorf("Unexpected statistics %+v", stats)
	}
	if rec.count() != 3 {
		t.Errorf("Expected 3 recorded frames, got %d", rec.count())
	}
	if stats.BatteryLevel == nil || *stats.BatteryLevel != 55 {
		t.Errorf("Expected battery level 55, got %v", stats.BatteryLevel)
	}
}

func TestUDPServerKeepsSensorOrder(t *testing.T) {
	cfg := &config.ServerConfig{
		UDPPort:     0,
		BindAddress: "127.0.0.1",
		BufferSize:  2048,
		Workers:     4,
		QueueSize:   4096,
	}
	rec := &fakeRecorder{}
	srv := NewUDPServer(cfg, testLogger(), nil, NewIngest(IngestConfig{}, testLogger(), nil, rec, nil))

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	conn, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	const frames = 500
	for i := 0; i < frames; i++ {
		eeg := make([]byte, 1+protocol.EEGFrameSize)
		eeg[0] = byte(protocol.SensorEEG)
		binary.LittleEndian.PutUint32(eeg[1:5], uint32(i*100))

		ppg := make([]byte, 1+protocol.PPGFrameSize)
		ppg[0] = byte(protocol.SensorPPG)
		binary.LittleEndian.PutUint32(ppg[1:5], uint32(i*280))

		for _, d := range [][]byte{eeg, ppg} {
			if _, err := conn.Write(d); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		stats := srv.GetStatistics()
		if stats.FramesReceived+stats.DatagramsDropped >= 2*frames || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	srv.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	last := map[protocol.SensorType]float64{}
	seen := map[protocol.SensorType]int{}
	for _, f := range rec.frames {
		var ts float64
		switch f.Sensor {
		case protocol.SensorEEG:
			ts = f.EEG[0].Timestamp
		case protocol.SensorPPG:
			ts = f.PPG[0].Timestamp
		}
		if seen[f.Sensor] > 0 && ts < last[f.Sensor] {
			t.Fatalf("%s frame at %.3fs recorded after %.3fs", f.Sensor, ts, last[f.Sensor])
		}
		last[f.Sensor] = ts
		seen[f.Sensor]++
	}
	if seen[protocol.SensorEEG] == 0 || seen[protocol.SensorPPG] == 0 {
		t.Errorf("Expected frames of both sensors, got %v", seen)
	}
}

func TestUDPServerStopWithoutStart(t *testing.T) {
	cfg := &config.ServerConfig{QueueSize: 1}
	srv := NewUDPServer(cfg, testLogger(), nil, NewIngest(IngestConfig{}, testLogger(), nil, nil, nil))

	if err := srv.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if srv.Addr() != nil {
		t.Errorf("Expected nil address before Start, got %v", srv.Addr())
	}
}

func TestUDPServerShardsBySensor(t *testing.T) {
	cfg := &config.ServerConfig{Workers: 3, QueueSize: 8}
	srv := NewUDPServer(cfg, testLogger(), nil, NewIngest(IngestConfig{}, testLogger(), nil, nil, nil))

	if len(srv.queues) != 3 {
		t.Fatalf("Expected 3 queues, got %d", len(srv.queues))
	}
	for _, sensor := range protocol.AllSensors {
		first := srv.queueFor([]byte{byte(sensor), 1})
		second := srv.queueFor([]byte{byte(sensor), 2, 3})
		if first != second {
			t.Errorf("%s frames must share one queue", sensor)
		}
	}
	if srv.queueFor(nil) != srv.queues[0] {
		t.Error("Empty datagrams go to the first queue")
	}
	if got := srv.GetStatistics().QueueCapacity; got != 24 {
		t.Errorf("Expected capacity 24, got %d", got)
	}
}
