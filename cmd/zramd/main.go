// Command zramd hosts a compressed RAM block device and exposes its text-attribute
// control surface over a unix socket, one line-delimited request/response per connection
// round trip, in the spirit of the kernel driver's sysfs attribute files.
package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vramfs/zram"
	"github.com/vramfs/zram/common/cobrautil"
	"github.com/vramfs/zram/common/systemd"
)

type flags struct {
	socketPath     string
	disksize       int64
	comp           string
	backingDev     string
	dedup          bool
	dedupIndexPath string
}

func main() {
	var f flags
	root := cobrautil.Cmd(&cobra.Command{
		Use:   "zramd",
		Short: "run a compressed RAM block device control daemon",
	},
		func(c *cobra.Command) {
			c.Flags().StringVar(&f.socketPath, "socket", "/run/zramd.sock", "control socket path")
			c.Flags().Int64Var(&f.disksize, "disksize", 0, "device size in bytes; 0 leaves it unconfigured at startup")
			c.Flags().StringVar(&f.comp, "comp-algorithm", "zstd", "compression algorithm")
			c.Flags().StringVar(&f.backingDev, "backing-dev", "", "path to a backing block device file")
			c.Flags().BoolVar(&f.dedup, "dedup", false, "enable content deduplication")
			c.Flags().StringVar(&f.dedupIndexPath, "dedup-index-path", "", "persist the dedup index to a bbolt database at this path instead of memory")
		},
		func() error { return run(f) },
	)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(f flags) error {
	dev := zram.New()
	if f.disksize > 0 {
		if err := dev.Configure(zram.Config{
			DiskSize:       f.disksize,
			CompAlgorithm:  f.comp,
			BackingDevPath: f.backingDev,
			Dedup:          f.dedup,
			DedupIndexPath: f.dedupIndexPath,
		}); err != nil {
			return fmt.Errorf("zramd: initial configure: %w", err)
		}
	}

	os.Remove(f.socketPath)
	ln, err := net.Listen("unix", f.socketPath)
	if err != nil {
		return fmt.Errorf("zramd: listen %s: %w", f.socketPath, err)
	}
	defer ln.Close()

	fdStore := systemd.SystemdFdStore{}
	fdStore.Ready()
	log.Printf("zramd: listening on %s", f.socketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		log.Println("zramd: shutting down")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go serve(dev, conn)
	}
}

// serve handles one control connection: each line is either "READ <attr>" or
// "WRITE <attr> <value...>", and the reply is "OK <value>" or "ERR <message>".
func serve(dev *zram.Device, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewScanner(conn)
	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		var resp string
		switch {
		case len(fields) >= 2 && fields[0] == "READ":
			v, err := dev.ReadAttr(fields[1])
			resp = formatReply(v, err)
		case len(fields) >= 2 && fields[0] == "WRITE":
			value := ""
			if len(fields) == 3 {
				value = fields[2]
			}
			err := dev.WriteAttr(fields[1], value)
			resp = formatReply("", err)
		default:
			resp = "ERR malformed request"
		}
		fmt.Fprintln(conn, resp)
	}
}

func formatReply(value string, err error) string {
	if err != nil {
		return "ERR " + err.Error()
	}
	return "OK " + value
}
