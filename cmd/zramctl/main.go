// Command zramctl is a thin client for zramd's control socket: it sends one READ or
// WRITE line and prints the reply, mirroring how zramctl(8) pokes the kernel driver's
// sysfs attribute files.
package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vramfs/zram/common/cobrautil"
)

func main() {
	var socketPath string

	root := &cobra.Command{Use: "zramctl"}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/run/zramd.sock", "control socket path")

	cobrautil.Cmd(root,
		cobrautil.Cmd(&cobra.Command{
			Use:   "get <attribute>",
			Args:  cobra.ExactArgs(1),
			Short: "read a control attribute",
		}, func(c *cobra.Command, args []string) error {
			return request(socketPath, "READ "+args[0])
		}),
		cobrautil.Cmd(&cobra.Command{
			Use:   "set <attribute> <value>",
			Args:  cobra.RangeArgs(1, 2),
			Short: "write a control attribute",
		}, func(c *cobra.Command, args []string) error {
			value := ""
			if len(args) == 2 {
				value = args[1]
			}
			return request(socketPath, "WRITE "+args[0]+" "+value)
		}),
		cobrautil.Cmd(&cobra.Command{
			Use:   "writeback <huge|idle> [max] [min]",
			Args:  cobra.RangeArgs(1, 3),
			Short: "trigger a writeback pass",
		}, func(c *cobra.Command, args []string) error {
			return request(socketPath, "WRITE writeback "+strings.Join(args, " "))
		}),
	)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func request(socketPath, line string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("zramctl: dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, line); err != nil {
		return err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("zramctl: read reply: %w", err)
	}
	fmt.Print(reply)
	return nil
}
