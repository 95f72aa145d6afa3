package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"
	"os/signal"
	"syscall"

	"stagectl/lib/config"
	"stagectl/lib/deck"
)

var palette = []color.RGBA{
	{220, 50, 50, 255},
	{50, 180, 50, 255},
	{50, 100, 220, 255},
	{220, 160, 30, 255},
	{180, 50, 180, 255},
	{50, 180, 180, 255},
	{220, 120, 50, 255},
	{100, 100, 200, 255},
}

func main() {
	configFile := flag.String("config", "", "stagectl.yml whose deck bindings label the keys")
	flag.Parse()

	labels := map[int]string{}
	if *configFile != "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, b := range cfg.Deck.Bindings {
			label := b.Label
			if label == "" {
				label = fmt.Sprintf("%s\n%s", b.Action, b.Target)
			}
			labels[b.Key] = label
		}
	}

	dev, err := deck.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	model := dev.Model()
	fmt.Printf("Connected to: %s %s (serial: %s)\n", dev.Product(), model.Name, dev.SerialNumber())

	dev.SetBrightness(80)

	faces := make([]deck.Face, dev.KeyCount())
	for i := range faces {
		label, ok := labels[i]
		if !ok {
			label = fmt.Sprintf("Key %d", i)
		}
		faces[i] = deck.Face{Label: label, Color: palette[(i%model.KeyCols)%len(palette)]}
		dev.SetKeyImage(i, faces[i].Image(dev.KeySize()))
	}

	keys := make(chan deck.KeyEvent, 64)
	go func() {
		if err := dev.ReadKeys(keys); err != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-keys:
			if !ev.Pressed {
				continue
			}
			f := &faces[ev.Key]
			f.Lit = !f.Lit
			dev.SetKeyImage(ev.Key, f.Image(dev.KeySize()))
			fmt.Printf("Key %d toggled %v\n", ev.Key, f.Lit)
		case <-sig:
			fmt.Println()
			dev.Reset()
			return
		}
	}
}
