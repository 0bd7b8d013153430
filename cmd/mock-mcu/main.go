// mock-mcu simulates the Flashforge firmware over TCP for testing the host
// without hardware. It answers the identify handshake, the load cell
// command set (arm, calibrate, save, read, raw passthrough) and pushes
// periodic air quality reports.
//
// Usage:
//
//	mock-mcu -addr 127.0.0.1:7131 [-weight 120] [-noise 5] [-trace]
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const clockFreq = 1000000

var commandTemplates = []string{
	"flashforge_loadcell_h1",
	"flashforge_loadcell_h2 weight=%u",
	"flashforge_loadcell_h3 weight=%u",
	"flashforge_loadcell_h7",
	"flashforge_loadcell_test_cmd cmd=%*s",
}

var (
	addr       = flag.String("addr", "127.0.0.1:7131", "TCP listen address")
	baseWeight = flag.Int("weight", 120, "Simulated raw weight in grams")
	noise      = flag.Int("noise", 5, "Random weight noise amplitude in grams")
	trace      = flag.Bool("trace", false, "Log all protocol traffic")
)

type mockMCU struct {
	mu        sync.Mutex
	rawWeight int
	offset    int
	startTime time.Time
}

func (m *mockMCU) weight() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.rawWeight - m.offset
	if *noise > 0 {
		w += rand.Intn(2**noise+1) - *noise
	}
	return w
}

// tare snapshots the current raw weight as the zero point.
func (m *mockMCU) tare() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = m.rawWeight
}

func (m *mockMCU) clock() int {
	return int(time.Since(m.startTime).Seconds() * clockFreq)
}

func main() {
	flag.Parse()
	rand.Seed(time.Now().UnixNano())

	mcu := &mockMCU{rawWeight: *baseWeight, startTime: time.Now()}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-mcu: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("mock-mcu: listening on %s\n", ln.Addr())

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		ln.Close()
		os.Exit(0)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go serveConn(conn, mcu)
	}
}

func serveConn(conn net.Conn, mcu *mockMCU) {
	defer conn.Close()
	fmt.Printf("mock-mcu: host connected from %s\n", conn.RemoteAddr())

	var writeMu sync.Mutex
	send := func(line string) {
		if *trace {
			fmt.Printf("mock-mcu: >> %s\n", line)
		}
		writeMu.Lock()
		fmt.Fprintf(conn, "%s\n", line)
		writeMu.Unlock()
	}

	// Periodic air quality broadcast.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				send(fmt.Sprintf(
					"flashforge_tvoc_response status=ok tvoc=%d co2=%d hcho=%d",
					80+rand.Intn(40), 600+rand.Intn(200), 10+rand.Intn(10)))
			case <-done:
				return
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if *trace {
			fmt.Printf("mock-mcu: << %s\n", line)
		}
		handleLine(line, mcu, send)
	}
	fmt.Printf("mock-mcu: host disconnected\n")
}

func handleLine(line string, mcu *mockMCU, send func(string)) {
	fields := strings.Fields(line)
	name := fields[0]

	respond := func(cmd string, value int, raw string) {
		send(fmt.Sprintf(
			"flashforge_loadcell_response status=ok command=%q value=%d raw_response=%q",
			cmd, value, raw))
	}

	switch name {
	case "identify":
		send(fmt.Sprintf(
			"identify_response mcu=%q version=%q clock=%d freq=%d commands=%q",
			"mock-stm32", "v1.0.0-sim", mcu.clock(), clockFreq,
			strings.Join(commandTemplates, ";")))

	case "flashforge_loadcell_h1":
		mcu.tare()
		respond("H1", 0, "H1 OK")

	case "flashforge_loadcell_h2":
		weight := paramInt(fields, "weight")
		respond("H2", weight, fmt.Sprintf("CAL %d OK", weight))

	case "flashforge_loadcell_h3":
		weight := paramInt(fields, "weight")
		respond("H3", weight, fmt.Sprintf("SAVE %d OK", weight))

	case "flashforge_loadcell_h7":
		w := mcu.weight()
		respond("H7", w, fmt.Sprintf("W %d", w))

	case "flashforge_loadcell_test_cmd":
		raw := line
		if i := strings.Index(line, "cmd="); i >= 0 {
			if s, err := strconv.Unquote(line[i+4:]); err == nil {
				raw = s
			}
		}
		respond("TEST", 0, "ACK "+raw)

	default:
		// Unknown traffic is ignored, like real firmware.
	}
}

func paramInt(fields []string, key string) int {
	prefix := key + "="
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, prefix) {
			if n, err := strconv.Atoi(f[len(prefix):]); err == nil {
				return n
			}
		}
	}
	return 0
}
