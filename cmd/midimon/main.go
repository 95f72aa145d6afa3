package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"stagectl/lib/midictl"
)

func main() {
	input := flag.String("input", "", "input port name or substring (first port when empty)")
	list := flag.Bool("list", false, "list ports and exit")
	learn := flag.Duration("learn", 0, "wait this long for one note, print it and exit")
	flag.Parse()

	defer midi.CloseDriver()

	ports := midictl.DriverPorts{}
	if *list {
		fmt.Println("Inputs:")
		for _, n := range midictl.InputNames(ports) {
			fmt.Printf("  %s\n", n)
		}
		fmt.Println("Outputs:")
		for _, n := range midictl.OutputNames(ports) {
			fmt.Printf("  %s\n", n)
		}
		return
	}

	name := *input
	if name == "" {
		names := midictl.InputNames(ports)
		if len(names) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no MIDI inputs")
			os.Exit(1)
		}
		name = names[0]
	}

	d := midictl.NewDispatcher(ports)
	d.OnNote(func(ev midictl.NoteEvent) {
		fmt.Println(ev)
	})
	if err := d.SelectInput(name); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer d.Disconnect()
	fmt.Printf("Listening on: %s\n", d.Selected())

	if *learn > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), *learn)
		defer cancel()
		ev, err := d.Learn(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("learned note %d (%s) channel %d\n", ev.Note, midictl.NoteName(ev.Note), ev.Channel)
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := d.Rescan(); err != nil {
				fmt.Fprintf(os.Stderr, "Rescan: %v\n", err)
			}
		case <-sig:
			fmt.Println()
			return
		}
	}
}
