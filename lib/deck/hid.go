package deck

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	xdraw "golang.org/x/image/draw"

	"rafaelmartins.com/p/usbhid"
)

const elgatoVendorID = 0x0fd9

type Model struct {
	Name     string
	Keys     int
	KeyCols  int
	KeySize  int
	FlipKeys bool
}

var (
	ModelMK2  = Model{Name: "MK.2", Keys: 15, KeyCols: 5, KeySize: 72, FlipKeys: true}
	ModelXL   = Model{Name: "XL", Keys: 32, KeyCols: 8, KeySize: 96, FlipKeys: true}
	ModelPlus = Model{Name: "Plus", Keys: 8, KeyCols: 4, KeySize: 120}
)

var productModels = map[uint16]*Model{
	0x0080: &ModelMK2,
	0x006d: &ModelMK2,
	0x006c: &ModelXL,
	0x008f: &ModelXL,
	0x0084: &ModelPlus,
}

// Device is a Stream Deck keypad attached over USB HID.
type Device struct {
	dev   *usbhid.Device
	model *Model
}

// Open attaches to the first supported keypad.
func Open() (*Device, error) {
	devices, err := usbhid.Enumerate(func(dev *usbhid.Device) bool {
		return dev.VendorId() == elgatoVendorID && productModels[dev.ProductId()] != nil
	})
	if err != nil {
		return nil, fmt.Errorf("deck: enumerate: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("deck: no device found")
	}

	dev := devices[0]
	if err := dev.Open(true); err != nil {
		return nil, fmt.Errorf("deck: open: %w", err)
	}
	return &Device{dev: dev, model: productModels[dev.ProductId()]}, nil
}

func (d *Device) Model() *Model        { return d.model }
func (d *Device) KeyCount() int        { return d.model.Keys }
func (d *Device) KeySize() int         { return d.model.KeySize }
func (d *Device) Close() error         { return d.dev.Close() }
func (d *Device) SerialNumber() string { return d.dev.SerialNumber() }
func (d *Device) Product() string      { return d.dev.Product() }

func (d *Device) SetBrightness(perc byte) error {
	if perc > 100 {
		perc = 100
	}
	pl := make([]byte, d.dev.GetFeatureReportLength())
	pl[0] = 0x08
	pl[1] = perc
	return d.dev.SetFeatureReport(3, pl)
}

func (d *Device) Reset() error {
	pl := make([]byte, d.dev.GetFeatureReportLength())
	pl[0] = 0x02
	return d.dev.SetFeatureReport(3, pl)
}

func (d *Device) SetKeyImage(key int, img image.Image) error {
	if key < 0 || key >= d.model.Keys {
		return fmt.Errorf("deck: invalid key %d", key)
	}

	sz := d.model.KeySize
	scaled := image.NewRGBA(image.Rect(0, 0, sz, sz))
	xdraw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Over, nil)

	var src image.Image = scaled
	if d.model.FlipKeys {
		flipped := image.NewRGBA(scaled.Bounds())
		for y := 0; y < sz; y++ {
			for x := 0; x < sz; x++ {
				flipped.Set(sz-1-x, sz-1-y, scaled.At(x, y))
			}
		}
		src = flipped
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 95}); err != nil {
		return err
	}
	return d.sendKeyImage(byte(key), buf.Bytes())
}

func (d *Device) sendKeyImage(key byte, imgData []byte) error {
	reportLen := d.dev.GetOutputReportLength()
	chunks := pages(imgData, int(reportLen)-8)
	for page, chunk := range chunks {
		last := byte(0)
		if page == len(chunks)-1 {
			last = 1
		}
		payload := make([]byte, reportLen)
		copy(payload, []byte{
			0x02,
			0x07,
			key,
			last,
			byte(len(chunk)),
			byte(len(chunk) >> 8),
			byte(page),
			byte(page >> 8),
		})
		copy(payload[8:], chunk)
		if err := d.dev.SetOutputReport(2, payload); err != nil {
			return err
		}
	}
	return nil
}

// pages splits data into chunks of at most size bytes.
func pages(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	return append(out, data)
}

type KeyEvent struct {
	Key     int
	Pressed bool
	Time    time.Time
}

// ReadKeys reports key transitions on ch until the device fails or is
// closed.
func (d *Device) ReadKeys(ch chan<- KeyEvent) error {
	keyStates := make([]byte, d.model.Keys)
	for {
		_, buf, err := d.dev.GetInputReport()
		if err != nil {
			return err
		}
		if len(buf) < 4 || buf[0] != 0x00 {
			continue
		}

		t := time.Now()
		const keyStart = 3
		for i := 0; i < d.model.Keys && keyStart+i < len(buf); i++ {
			st := buf[keyStart+i]
			if st != keyStates[i] {
				ch <- KeyEvent{Key: i, Pressed: st > 0, Time: t}
				keyStates[i] = st
			}
		}
	}
}
