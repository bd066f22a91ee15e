// Command idevicectl is a minimal demonstration CLI exercising the core
// library end-to-end: QueryType, GetValue, Pair, and StartService (spec §7
// "CLI layer", SPEC_FULL §11). It is intentionally thin, the way the
// teacher's own main.go is a thin docopt dispatch table over the ios
// package's real logic (spec.md §1 non-goals: "CLI packaging beyond a
// minimal demonstration tool").
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/hexmux/idevice"
	"github.com/hexmux/idevice/lockdown"
	"github.com/hexmux/idevice/pairing"
	log "github.com/sirupsen/logrus"
)

const toolName = "idevicectl"
const version = "local-build"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", toolName, err)
		os.Exit(1)
	}
}

func run() error {
	usage := fmt.Sprintf(`%s %s

Usage:
  idevicectl querytype [options]
  idevicectl getvalue [<domain>] <key> [options]
  idevicectl pair [options]
  idevicectl startservice <service> [options]
  idevicectl -h | --help
  idevicectl --version

Options:
  -v --verbose   Enable debug logging.
  -t --trace     Enable trace logging.
  --udid=<udid>  UDID of the device to use; default is the first one found.
  -h --help      Show this screen.
`, toolName, version)

	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		return err
	}

	if v, _ := arguments.Bool("--version"); v {
		fmt.Println(version)
		return nil
	}

	if v, _ := arguments.Bool("--trace"); v {
		idevice.SetDebugLevel(log.TraceLevel)
	} else if v, _ := arguments.Bool("--verbose"); v {
		idevice.SetDebugLevel(log.DebugLevel)
	}

	udid, _ := arguments.String("--udid")
	cfg := idevice.DefaultConfig()
	dev, err := idevice.Open(udid, cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	conn, err := dev.ConnectLockdown(time.Duration(cfg.UsbTimeoutMs) * time.Millisecond)
	if err != nil {
		return err
	}
	client := lockdown.New(conn)
	defer client.Close()

	if _, err := client.QueryType(); err != nil {
		return err
	}

	if b, _ := arguments.Bool("querytype"); b {
		fmt.Println("com.apple.mobile.lockdown")
		return nil
	}

	if b, _ := arguments.Bool("getvalue"); b {
		domain, _ := arguments.String("<domain>")
		key, _ := arguments.String("<key>")
		val, err := client.GetValue(domain, key)
		if err != nil {
			return err
		}
		fmt.Printf("%v\n", val)
		return nil
	}

	if b, _ := arguments.Bool("pair"); b {
		store, err := pairing.NewFileStore(cfg.PairRecordDir, nil)
		if err != nil {
			return err
		}
		systemBUID, err := loadOrCreateSystemBUID(store)
		if err != nil {
			return err
		}
		record, err := client.Pair(systemBUID)
		if err != nil {
			return err
		}
		if err := store.Save(dev.UUID, record); err != nil {
			return err
		}
		fmt.Printf("paired with host ID %s\n", record.HostID)
		return nil
	}

	if b, _ := arguments.Bool("startservice"); b {
		name, _ := arguments.String("<service>")
		info, err := client.StartService(name)
		if err != nil {
			return err
		}
		fmt.Printf("port=%d ssl=%v\n", info.Port, info.EnableServiceSSL)
		return nil
	}

	return fmt.Errorf("no command given")
}

func loadOrCreateSystemBUID(store *pairing.FileStore) (string, error) {
	const key = "__systembuid__"
	if record, ok, err := store.Load(key); err == nil && ok {
		return record.SystemBUID, nil
	}
	return pairing.NewSystemBUID(), nil
}
