package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/tarm/serial"

	"github.com/stellarmount/skywatcher-go"
	"github.com/stellarmount/skywatcher-go/parkstore"
)

const (
	helpBlurb = `
Usage: skywatcherctl <command> [args...]

skywatcherctl talks to a Skywatcher-family mount over the device and baud
rate named in skywatcherctl.yml (or the defaults below) and runs one
command before exiting.

Commands:
	slew <ra-rate> <de-rate>     continuous slew, rates in multiples of sidereal
	goto <dra> <dde>             relative goto, deltas in encoder steps
	track <arcsec-per-sec>       start RA tracking at the given rate
	stop                         non-instant stop, both axes
	park                         persist current encoder position as parked
	help                         print this message

Example config (skywatcherctl.yml):
	Device: /dev/ttyUSB0
	Baud: 9600
	ParkFile: skywatcher-park.yml
`
)

type config struct {
	Device   string `yaml:"Device"`
	Baud     int    `yaml:"Baud"`
	ParkFile string `yaml:"ParkFile"`
	Debug    bool   `yaml:"Debug"`
}

const configFileName = "skywatcherctl.yml"

var k = koanf.New(".")

func loadConfig() config {
	k.Load(structs.Provider(config{
		Device:   "/dev/ttyUSB0",
		Baud:     9600,
		ParkFile: "skywatcher-park.yml",
	}, "yaml"), nil)
	if err := k.Load(file.Provider(configFileName), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") {
			log.Fatalf("skywatcherctl: error loading config: %v", err)
		}
	}
	var cfg config
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatalf("skywatcherctl: error unmarshaling config: %v", err)
	}
	return cfg
}

func connect(cfg config) *skywatcher.Driver {
	sc := &serial.Config{Name: cfg.Device, Baud: cfg.Baud}
	t := skywatcher.NewSerialTransport(sc)
	d := skywatcher.NewDriver(t)
	d.SetDebug(cfg.Debug)
	d.Park = parkstore.NewFileStore(cfg.ParkFile)

	if err := d.Handshake(); err != nil {
		log.Fatalf("skywatcherctl: handshake failed: %v", err)
	}
	log.Printf("skywatcherctl: connected to %s (mount code 0x%02X)", d.Model.Identity.Name, d.Model.Identity.MountCode)
	if err := d.Init(); err != nil {
		log.Fatalf("skywatcherctl: init failed: %v", err)
	}
	return d
}

func mustFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Fatalf("skywatcherctl: %q is not a number: %v", s, err)
	}
	return f
}

func mustInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatalf("skywatcherctl: %q is not an integer: %v", s, err)
	}
	return n
}

func main() {
	args := os.Args
	if len(args) < 2 || args[1] == "help" {
		fmt.Println(helpBlurb)
		return
	}

	cfg := loadConfig()
	cmd := strings.ToLower(args[1])

	switch cmd {
	case "slew":
		if len(args) != 4 {
			log.Fatal("skywatcherctl: slew requires <ra-rate> <de-rate>")
		}
		d := connect(cfg)
		defer d.Close()
		if err := d.SlewAxis(skywatcher.RA, mustFloat(args[2])); err != nil {
			log.Fatalf("skywatcherctl: slew RA: %v", err)
		}
		if err := d.SlewAxis(skywatcher.DE, mustFloat(args[3])); err != nil {
			log.Fatalf("skywatcherctl: slew DE: %v", err)
		}
	case "goto":
		if len(args) != 4 {
			log.Fatal("skywatcherctl: goto requires <dra> <dde>")
		}
		d := connect(cfg)
		defer d.Close()
		if err := d.SlewTo(mustInt(args[2]), mustInt(args[3])); err != nil {
			log.Fatalf("skywatcherctl: goto: %v", err)
		}
	case "track":
		if len(args) != 3 {
			log.Fatal("skywatcherctl: track requires <arcsec-per-sec>")
		}
		d := connect(cfg)
		defer d.Close()
		if err := d.StartRATracking(mustFloat(args[2])); err != nil {
			log.Fatalf("skywatcherctl: track: %v", err)
		}
	case "stop":
		d := connect(cfg)
		defer d.Close()
		if err := d.StopAxis(skywatcher.RA); err != nil {
			log.Fatalf("skywatcherctl: stop RA: %v", err)
		}
		if err := d.StopAxis(skywatcher.DE); err != nil {
			log.Fatalf("skywatcherctl: stop DE: %v", err)
		}
	case "park":
		d := connect(cfg)
		defer d.Close()
		if err := d.ParkMount(); err != nil {
			log.Fatalf("skywatcherctl: park: %v", err)
		}
	default:
		fmt.Println(helpBlurb)
		log.Fatalf("skywatcherctl: unknown command %q", args[1])
	}
}
