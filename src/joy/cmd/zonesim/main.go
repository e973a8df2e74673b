package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"pagezone/src/joy"
	"pagezone/src/lib/trust"
	"pagezone/src/lib/upbeat"
)

var helpFlag = flag.Bool("h", false, "get usage info")
var ttyFlag = flag.String("p", "", "supply a TTY device for the console (default is the controlling terminal)")
var verbose = flag.Int("v", 0, "verbosity level: 0 terse (default), 1 info, 2 debug and stats")
var zonesFlag = flag.String("z", "", "zone sizes in pages as dma,normal,highmem (default 4096,28672,0)")
var holesFlag = flag.String("holes", "", "pages missing at the end of each zone as dma,normal,highmem")
var orderFlag = flag.Uint("o", 0, "number of free area orders (default 10)")
var pageSizeFlag = flag.Uint64("s", 0, "page size in bytes (default 4096)")
var highFlag = flag.Bool("b", false, "apply watermarks to high memory")
var stressFlag = flag.Int("stress", 0, "run this many allocating families without the console, then report")
var iterFlag = flag.Int("n", 10000, "allocations per family in stress mode")
var watchFlag = flag.Int("w", 1000, "warn after this many retries of one allocation (0 never)")

func usage() {
	fmt.Fprintf(os.Stderr, "usage: zonesim [flags]\n")
	flag.PrintDefaults()
	os.Exit(1)
}

func parseTriple(s string, into *[upbeat.NumZoneClasses]uint64) error {
	parts := strings.Split(s, ",")
	if len(parts) > upbeat.NumZoneClasses {
		return fmt.Errorf("too many zones in %q", s)
	}
	for i := range into {
		into[i] = 0
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 0, 64)
		if err != nil {
			return fmt.Errorf("bad zone value %q: %w", p, err)
		}
		into[i] = v
	}
	return nil
}

func bootParams() upbeat.BootParams {
	params := upbeat.DefaultBootParams()
	if *zonesFlag != "" {
		if err := parseTriple(*zonesFlag, &params.ZoneSizes); err != nil {
			log.Fatalf("-z: %v", err)
		}
	}
	if *holesFlag != "" {
		if err := parseTriple(*holesFlag, &params.ZoneHoles); err != nil {
			log.Fatalf("-holes: %v", err)
		}
	}
	if *orderFlag != 0 {
		params.MaxOrder = *orderFlag
	}
	if *pageSizeFlag != 0 {
		params.PageSize = *pageSizeFlag
	}
	params.BalanceHighMem = *highFlag
	return params
}

func main() {
	flag.Parse()
	if *helpFlag || flag.NArg() != 0 {
		usage()
	}
	trust.SetLevel(trust.Verbosity(*verbose))

	m, jerr := joy.KMemInit(bootParams(), nil)
	if jerr != joy.JoyNoError {
		log.Fatalf("unable to boot memory: %v", jerr)
	}
	defer m.Close()

	cache := newPageCache(m)
	m.SetReclaimer(cache)
	m.SetRetryPolicy(joy.WatchdogRetry{
		Every:   *watchFlag,
		Backoff: 10 * time.Microsecond,
		Max:     10 * time.Millisecond,
	})

	if *stressFlag > 0 {
		os.Exit(stress(m, cache, *stressFlag, *iterFlag))
	}
	c, err := newConsole(*ttyFlag, m, cache)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer c.Close()
	c.Run()
}
