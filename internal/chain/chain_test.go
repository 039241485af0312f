package chain_test

import (
	"testing"

	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/busywait"
	"libdb.so/nightlight/internal/chain"
	"libdb.so/nightlight/internal/led"
	"libdb.so/nightlight/internal/sim"
)

func TestFillWireOrder(t *testing.T) {
	timer := &sim.Timer{}
	spi := sim.NewSPI(timer)
	tx := chain.NewTransmitter(spi, timer, 0)

	c := led.RGB(0x01, 0x80, 0x3C)
	if err := tx.Fill(3, c); err != nil {
		t.Fatal(err)
	}

	want := []byte{0x80, 0x01, 0x3C, 0x80, 0x01, 0x3C, 0x80, 0x01, 0x3C}
	got := spi.Bytes()
	if string(got) != string(want) {
		t.Fatalf("got % x, want % x", got, want)
	}

	// Green 0x80 goes out most significant bit first.
	bits := spi.Bits()
	if len(bits) != 3*24 {
		t.Fatalf("sent %d bits", len(bits))
	}
	if !bits[0] || bits[1] || bits[7] {
		t.Fatalf("green bits out of order: %v", bits[:8])
	}
	// Red 0x01 only has its last bit set.
	if bits[8] || !bits[15] {
		t.Fatalf("red bits out of order: %v", bits[8:16])
	}

	for i, f := range spi.Frames() {
		if f != c {
			t.Fatalf("frame %d: got %+v", i, f)
		}
	}
}

func TestTransferSequence(t *testing.T) {
	timer := &sim.Timer{}
	spi := sim.NewSPI(timer)
	tx := chain.NewTransmitter(spi, timer, 0)

	if err := tx.Fill(16, led.RGB(8, 8, 8)); err != nil {
		t.Fatal(err)
	}
	if spi.Faults() != 0 {
		t.Fatalf("%d bytes sent with the timer out of phase", spi.Faults())
	}
	if timer.Runs() != 16*3 {
		t.Fatalf("timer started %d times", timer.Runs())
	}
	if timer.Enabled() {
		t.Fatal("timer left running")
	}
}

func TestTransferTimeout(t *testing.T) {
	timer := &sim.Timer{}
	spi := sim.NewSPI(timer)
	spi.Stalled = true

	err := chain.NewTransmitter(spi, timer, 50).Fill(1, led.Off)
	if !errors.Is(err, busywait.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if timer.Enabled() {
		t.Fatal("timer left running after a timeout")
	}
}

func TestTee(t *testing.T) {
	var calls []int
	w := func(id int) chain.Writer {
		return chain.WriterFunc(func(n int, c led.Color) error {
			calls = append(calls, id)
			return nil
		})
	}
	failing := chain.WriterFunc(func(int, led.Color) error {
		return errors.New("broken")
	})

	if err := chain.Tee(w(1), w(2)).Fill(1, led.Off); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Fatalf("unexpected calls %v", calls)
	}

	calls = nil
	if err := chain.Tee(w(1), failing, w(3)).Fill(1, led.Off); err == nil {
		t.Fatal("expected error")
	}
	if len(calls) != 1 {
		t.Fatalf("writers after the failure were called: %v", calls)
	}
}
