package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/theckman/yacspin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/kepler/flipro"
	"github.jpl.nasa.gov/bdube/kepler/generichttp"
	"github.jpl.nasa.gov/bdube/kepler/generichttp/camera"
	"github.jpl.nasa.gov/bdube/kepler/gps"
	"github.jpl.nasa.gov/bdube/kepler/grab"
	"github.jpl.nasa.gov/bdube/kepler/imgrec"
	"github.jpl.nasa.gov/bdube/kepler/kepler"
	"github.jpl.nasa.gov/bdube/kepler/kepler/ext/thermalguard"
	"github.jpl.nasa.gov/bdube/kepler/obsfits"
	"github.jpl.nasa.gov/bdube/kepler/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/kepler/usbprobe"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "flictl.yml"
	k              = koanf.New(".")
)

type device struct {
	// Index is the position of the camera in the device list
	Index int `yaml:"Index"`

	// Simulate uses a simulated camera instead of libflipro
	Simulate bool `yaml:"Simulate"`
}

type trigger struct {
	External bool `yaml:"External"`

	// Type is 0 falling edge, 1 rising edge, 2 expose while low, 3 expose while high
	Type int `yaml:"Type"`
}

type output struct {
	Root        string `yaml:"Root"`
	Base        string `yaml:"Base"`
	Timestamp   bool   `yaml:"Timestamp"`
	Metadata    bool   `yaml:"Metadata"`
	DateFolders bool   `yaml:"DateFolders"`
}

type site struct {
	Latitude  float64 `yaml:"Latitude"`
	Longitude float64 `yaml:"Longitude"`
	Altitude  float64 `yaml:"Altitude"`
	Name      string  `yaml:"Name"`

	// GPSPort is the serial port of an NMEA receiver.  When set, the position
	// is read from it and the values above are a fallback
	GPSPort string `yaml:"GPSPort"`
	GPSBaud int    `yaml:"GPSBaud"`
}

type logcfg struct {
	Level       string `yaml:"Level"`
	Development bool   `yaml:"Development"`
}

type guard struct {
	Target   float64       `yaml:"Target"`
	Step     float64       `yaml:"Step"`
	Interval time.Duration `yaml:"Interval"`
}

type config struct {
	Addr       string        `yaml:"Addr"`
	Root       string        `yaml:"Root"`
	Device     device        `yaml:"Device"`
	Exposure   time.Duration `yaml:"Exposure"`
	FrameDelay time.Duration `yaml:"FrameDelay"`
	LowGain    int           `yaml:"LowGain"`
	HighGain   int           `yaml:"HighGain"`
	Cool       bool          `yaml:"Cool"`
	Setpoint   float64       `yaml:"Setpoint"`
	Trigger    trigger       `yaml:"Trigger"`

	// Shutter is open or closed; empty leaves the shutter to the camera
	Shutter string `yaml:"Shutter"`
	Output  output `yaml:"Output"`
	Site    site   `yaml:"Site"`
	Log     logcfg `yaml:"Log"`
	Guard   guard  `yaml:"Guard"`
}

func setupconfig() {
	ds := kepler.DefaultSite
	k.Load(structs.Provider(config{
		Addr:       ":8000",
		Root:       "/",
		Exposure:   kepler.DefaultExposure,
		FrameDelay: 0,
		LowGain:    kepler.DefaultLowGainIndex,
		HighGain:   kepler.DefaultHighGainIndex,
		Setpoint:   -10,
		Trigger:    trigger{Type: int(kepler.FallingEdge)},
		Output:     output{Root: ".", Base: "fli_image"},
		Site: site{
			Latitude:  ds.Latitude,
			Longitude: ds.Longitude,
			Altitude:  ds.Altitude,
			Name:      ds.Name,
			GPSBaud:   9600},
		Log: logcfg{Level: "info"},
		Guard: guard{
			Target:   thermalguard.DefaultTarget,
			Step:     thermalguard.DefaultStep,
			Interval: thermalguard.DefaultInterval}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `flictl controls FLI Kepler KL4040 cameras and captures
dual gain (low and high) FITS images from them.

Usage:
	flictl <command> [args]

Commands:
	list
	info
	modes
	setup
	grab <N>
	grabone
	serve
	warmup
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `flictl is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

Every command that talks to a camera first applies the configuration: exposure
and frame delay (nanoseconds), the low and high gain table indices, the trigger,
the shutter, and the cooler setpoint when Cool is true.  Exposure and frame delay
are read back and must agree within 1%.

grab <N> captures N frames and writes <Base><index>[_<time>]_L.fits and _H.fits
for each, plus <stem>_meta.bin with the raw metadata header when Output.Metadata
is true.  grabone captures a single frame without an index in the file names.
Existing files are never overwritten; the run stops at the first collision.

With Trigger.External the camera waits for a pulse on its trigger input for
every frame and the capture times are truncated to the second, otherwise they are
rounded to the nearest second.

serve exposes the camera over HTTP at Addr, under Root.  GET <Root>/endpoints
lists the routes.

warmup walks the cooler setpoint to Guard.Target in steps of Guard.Step every
Guard.Interval.  Interrupt it with ctrl-C to leave the setpoint where it is.

Set Device.Simulate to run without a camera.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("flictl version %v\n", Version)
}

func mklog(c logcfg) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// open opens the configured camera, retrying while the driver settles after
// the camera is powered on
func open(cfg config, lg *zap.SugaredLogger) (kepler.Device, error) {
	if cfg.Device.Simulate {
		lg.Infow("using simulated camera")
		return kepler.NewSimDevice(kepler.SensorWidth, kepler.SensorHeight, 0), nil
	}
	var dev kepler.Device
	op := func() error {
		c, err := flipro.Open(cfg.Device.Index)
		if err != nil {
			var ce *kepler.ConfigurationError
			if errors.As(err, &ce) {
				return backoff.Permanent(err)
			}
			lg.Warnw("opening camera", "index", cfg.Device.Index, "err", err)
			return err
		}
		lg.Infow("opened camera", "name", c.Info().FriendlyName, "serial", c.Info().SerialNo)
		dev = c
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		// tell "not plugged in" apart from "the driver can't see it"
		if devs, uerr := usbprobe.List(); uerr == nil && len(devs) > 0 {
			lg.Warnw("FLI devices are on the bus but could not be opened", "devices", devs)
		}
		return nil, errors.Wrap(err, "opening camera")
	}
	return dev, nil
}

// configure applies the configuration to the camera
func configure(cam *kepler.Camera, cfg config, lg *zap.SugaredLogger) error {
	if err := cam.SetExposure(cfg.Exposure); err != nil {
		return errors.Wrap(err, "exposure")
	}
	if err := cam.SetFrameDelay(cfg.FrameDelay); err != nil {
		return errors.Wrap(err, "frame delay")
	}
	lo, err := cam.SetGain(kepler.LowGainTable, cfg.LowGain)
	if err != nil {
		return errors.Wrap(err, "low gain")
	}
	hi, err := cam.SetGain(kepler.HighGainTable, cfg.HighGain)
	if err != nil {
		return errors.Wrap(err, "high gain")
	}
	if err = cam.SetTrigger(kepler.TriggerConfig{Enabled: cfg.Trigger.External, Type: kepler.TriggerType(cfg.Trigger.Type)}); err != nil {
		return errors.Wrap(err, "trigger")
	}
	switch strings.ToLower(cfg.Shutter) {
	case "":
	case "open":
		err = cam.SetShutter(true)
	case "closed", "close":
		err = cam.SetShutter(false)
	default:
		err = &kepler.ConfigurationError{Param: "Shutter", Msg: fmt.Sprintf("%q is not open or closed", cfg.Shutter)}
	}
	if err != nil {
		return errors.Wrap(err, "shutter")
	}
	if cfg.Cool {
		if err = cam.SetTemperatureSetpoint(cfg.Setpoint); err != nil {
			return errors.Wrap(err, "temperature setpoint")
		}
	}
	lg.Infow("camera configured",
		"exposure", cfg.Exposure,
		"frameDelay", cfg.FrameDelay,
		"lowGain", lo,
		"highGain", hi,
		"external", cfg.Trigger.External)
	return nil
}

// location returns the observing site, from GPS if a receiver is configured
func location(s site, lg *zap.SugaredLogger) kepler.Site {
	fallback := kepler.Site{Latitude: s.Latitude, Longitude: s.Longitude, Altitude: s.Altitude, Name: s.Name}
	if s.GPSPort == "" {
		return fallback
	}
	rx, err := gps.NewReceiver(s.GPSPort, s.GPSBaud)
	if err != nil {
		lg.Warnw("GPS unavailable, using configured site", "port", s.GPSPort, "err", err)
		return fallback
	}
	defer rx.Close()
	fix, err := rx.Fix(50)
	if err != nil {
		lg.Warnw("no GPS fix, using configured site", "port", s.GPSPort, "err", err)
		return fallback
	}
	lg.Infow("site from GPS", "lat", fix.Latitude, "lon", fix.Longitude, "alt", fix.Altitude, "satellites", fix.Satellites)
	return fix.Site(s.Name)
}

// withCamera opens and configures the camera, calls fcn, and closes it
func withCamera(cfg config, lg *zap.SugaredLogger, setup bool, fcn func(*kepler.Camera) error) (err error) {
	dev, err := open(cfg, lg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dev.Close()) }()
	cam := kepler.NewCamera(dev)
	if setup {
		if err = configure(cam, cfg, lg); err != nil {
			return err
		}
	}
	return fcn(cam)
}

func runner(cam *kepler.Camera, cfg config, lg *zap.SugaredLogger) *grab.Runner {
	o := cfg.Output
	return &grab.Runner{
		Camera: cam,
		Recorder: &imgrec.Recorder{
			Root:        o.Root,
			Base:        o.Base,
			Timestamps:  o.Timestamp,
			Metadata:    o.Metadata,
			DateFolders: o.DateFolders},
		Writer:  obsfits.NewWriter(),
		Site:    location(cfg.Site, lg),
		Trigger: kepler.TriggerConfig{Enabled: cfg.Trigger.External, Type: kepler.TriggerType(cfg.Trigger.Type)},
		Log:     lg}
}

// spin attaches a spinner to r that is shown while waiting on the trigger.
// The returned function stops it.
func spin(r *grab.Runner, n int) func() {
	sp, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " ",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopMessage:     "done"})
	if err != nil {
		return func() {}
	}
	r.Waiting = func(idx int) {
		sp.Message(fmt.Sprintf("waiting for trigger, frame %d of %d", idx+1, n))
	}
	if err = sp.Start(); err != nil {
		return func() {}
	}
	return func() { sp.Stop() }
}

func list(lg *zap.SugaredLogger) error {
	cams, err := flipro.List()
	if err != nil {
		var de *kepler.DeviceError
		if errors.As(err, &de) {
			lg.Warnw("listing cameras", "status", flipro.StatusName(de.Status))
		}
		return err
	}
	for i, c := range cams {
		fmt.Printf("%d: %s serial %s (%04x:%04x) %s\n", i, c.FriendlyName, c.SerialNo, c.VendorID, c.ProductID, c.DevicePath)
	}
	if len(cams) == 0 {
		devs, err := usbprobe.List()
		if err != nil {
			return err
		}
		fmt.Printf("no cameras found by libflipro, %d FLI devices on the USB bus\n", len(devs))
		for _, d := range devs {
			fmt.Println(d)
		}
	}
	return nil
}

func grabN(cfg config, lg *zap.SugaredLogger, n int) error {
	return withCamera(cfg, lg, true, func(cam *kepler.Camera) error {
		r := runner(cam, cfg, lg)
		if cfg.Trigger.External {
			stop := spin(r, n)
			defer stop()
		}
		frames, err := r.GrabImages(n)
		for _, f := range frames {
			if f.Dropped {
				fmt.Printf("%05d dropped\n", f.Index)
				continue
			}
			fmt.Printf("%05d %s %s\n", f.Index, f.Timestamp.Format(kepler.ISOExtended), strings.Join(f.Files, " "))
		}
		return err
	})
}

func grabOne(cfg config, lg *zap.SugaredLogger) error {
	return withCamera(cfg, lg, true, func(cam *kepler.Camera) error {
		r := runner(cam, cfg, lg)
		if cfg.Trigger.External {
			stop := spin(r, 1)
			defer stop()
		}
		f, err := r.GrabImage()
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(f)
	})
}

func serve(cfg config, lg *zap.SugaredLogger) error {
	return withCamera(cfg, lg, true, func(cam *kepler.Camera) error {
		l := locker.New()
		w := camera.NewHTTPCamera(runner(cam, cfg, lg), l)

		// clean up the submux string
		hndlrS := generichttp.SubMuxSanitize(cfg.Root)
		root := chi.NewRouter()
		mux := chi.NewRouter()
		mux.Use(l.Check)
		root.Mount(hndlrS, mux)
		w.RT().Bind(mux)
		lg.Infow("now listening for requests", "addr", cfg.Addr, "root", hndlrS)
		return http.ListenAndServe(cfg.Addr, root)
	})
}

func warmup(cfg config, lg *zap.SugaredLogger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	return withCamera(cfg, lg, false, func(cam *kepler.Camera) error {
		g := thermalguard.Guardian{
			Cam:      cam,
			Target:   cfg.Guard.Target,
			Step:     cfg.Guard.Step,
			Interval: cfg.Guard.Interval,
			Log:      lg}
		return g.Walk(ctx)
	})
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "version":
		pversion()
		return
	}

	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}
	lg, err := mklog(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Sync()

	switch cmd {
	case "list":
		err = list(lg)
	case "info":
		err = withCamera(cfg, lg, false, func(cam *kepler.Camera) error {
			s, err := cam.Snapshot()
			if err != nil {
				return err
			}
			return s.Report(os.Stdout)
		})
	case "modes":
		err = withCamera(cfg, lg, false, func(cam *kepler.Camera) error {
			return cam.ReportModes(os.Stdout)
		})
	case "setup":
		err = withCamera(cfg, lg, true, func(cam *kepler.Camera) error {
			s, err := cam.Snapshot()
			if err != nil {
				return err
			}
			return s.Report(os.Stdout)
		})
	case "grab":
		n := 1
		if len(args) > 2 {
			n, err = strconv.Atoi(args[2])
			if err != nil || n < 1 {
				log.Fatalf("grab takes a positive number of frames, got %q", args[2])
			}
		}
		err = grabN(cfg, lg, n)
	case "grabone":
		err = grabOne(cfg, lg)
	case "serve", "run":
		err = serve(cfg, lg)
	case "warmup":
		err = warmup(cfg, lg)
	default:
		log.Fatal("unknown command")
	}
	if err != nil {
		lg.Sync()
		log.Fatal(err)
	}
}
