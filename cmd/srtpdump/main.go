// Srtpdump - one-shot forensic memory dump of a GE-SRTP PLC.
//
// Connects to a PLC, sweeps the requested memory regions, and writes a
// JSON snapshot with raw bytes, decoded values, controller diagnostics,
// and a SHA-256 digest over the captured memory image.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"srtplink/forensic"
	"srtplink/logging"
	"srtplink/srtp"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	host := flag.String("host", "", "PLC host or host:port (required)")
	port := flag.Int("port", 0, "PLC port (default 18245)")
	slot := flag.Int("slot", 0, "CPU slot (0-15)")
	timeout := flag.Duration("timeout", 5*time.Second, "Socket timeout")
	regionsFlag := flag.String("regions", "", "Comma-separated region specs (e.g. %R:0:100,%I:0:64); default sweep when empty")
	out := flag.String("out", "", "Output file path; \"-\" for stdout, empty for an auto-generated name")
	name := flag.String("name", "", "PLC name recorded in the snapshot (default: host)")
	debugFlag := flag.Bool("debug", false, "Log protocol traffic to debug.log")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("srtpdump %s\n", Version)
		os.Exit(0)
	}

	if *host == "" {
		fmt.Fprintln(os.Stderr, "Error: -host is required")
		flag.Usage()
		os.Exit(2)
	}

	if *debugFlag {
		debugLogger, err := logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: debug logging disabled: %v\n", err)
		} else {
			logging.SetGlobalDebugLogger(debugLogger)
			defer debugLogger.Close()
		}
	}

	regions, err := parseRegions(*regionsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	plcName := *name
	if plcName == "" {
		plcName = *host
	}

	opts := []srtp.Option{srtp.WithTimeout(*timeout)}
	if *port != 0 {
		opts = append(opts, srtp.WithPort(*port))
	}
	if *slot != 0 {
		opts = append(opts, srtp.WithSlot(*slot))
	}

	client, err := srtp.Connect(*host, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: connect %s: %v\n", *host, err)
		os.Exit(1)
	}
	defer client.Close()

	dumper := forensic.NewDumper(client, regions...)
	snap, err := dumper.Acquire(plcName, *host, *slot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *out == "-" {
		if err := snap.WriteJSON(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		return
	}

	path, err := snap.SaveFile(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot saved to %s\n", path)
	fmt.Printf("  regions: %d\n", len(snap.Regions))
	fmt.Printf("  elapsed: %s\n", snap.Metadata.Elapsed)
	fmt.Printf("  sha256:  %s\n", snap.Metadata.Digest)
}

// parseRegions parses the -regions flag into sweep specs.
func parseRegions(s string) ([]forensic.RegionSpec, error) {
	if s == "" {
		return nil, nil
	}

	var specs []forensic.RegionSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec, err := forensic.ParseRegionSpec(part)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
