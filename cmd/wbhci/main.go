package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/pkg/errors"
	"github.com/rigado/wbhci"
	"github.com/rigado/wbhci/h4"
	"github.com/rigado/wbhci/hci"
	"github.com/rigado/wbhci/identity"
	"github.com/rigado/wbhci/shm"
	"github.com/rigado/wbhci/sim"
	"github.com/rigado/wbhci/stm32wb"
	"github.com/rigado/wbhci/tl"
	"github.com/urfave/cli"
)

// deviceID is the debug IDCODE device id of the STM32WB55.
const deviceID = 0x495

func main() {
	app := cli.NewApp()
	app.Name = "wbhci"
	app.Usage = "HCI transport for the STM32WB radio co-processor"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "Enable debug logging",
		},
		cli.StringFlag{
			Name:  "layout",
			Usage: "Shared-memory layout file (JSON)",
		},
		cli.StringFlag{
			Name:  "shm",
			Usage: "Map the shared region from this file instead of process memory",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			wbhci.SetLogLevelMax()
		}
		return nil
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "layout",
			Usage:  "Print the shared-memory layout, or validate a layout file",
			Action: layoutCommand,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Usage: "Write the layout to this file",
				},
			},
		},
		cli.Command{
			Name:   "selftest",
			Usage:  "Bring up a simulated co-processor and exercise the link",
			Action: selftestCommand,
			Flags: []cli.Flag{
				uidFlag,
				factoryFlag,
			},
		},
		cli.Command{
			Name:   "bridge",
			Usage:  "Expose the simulated co-processor as an H4 UART",
			Action: bridgeCommand,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "port, p",
					Usage: "Serial port",
				},
				cli.UintFlag{
					Name:  "baud, b",
					Value: 115200,
					Usage: "Baud rate",
				},
				cli.StringFlag{
					Name:  "tcp",
					Usage: "Serve one H4 client on this TCP address instead of a serial port",
				},
				uidFlag,
				factoryFlag,
			},
		},
		cli.Command{
			Name:   "identity",
			Usage:  "Print the addresses and keys derived from a device signature",
			Action: identityCommand,
			Flags: []cli.Flag{
				uidFlag,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var uidFlag = cli.StringFlag{
	Name:  "uid",
	Usage: "UID64 of the device in hex (default: derived from the machine id)",
}

var factoryFlag = cli.StringFlag{
	Name:  "factory-address",
	Value: "00:80:E1:00:00:00",
	Usage: "Address the simulated co-processor reports before one is written",
}

func loadLayout(c *cli.Context) (tl.Layout, error) {
	path := c.GlobalString("layout")
	if path == "" {
		return tl.DefaultLayout(), nil
	}
	return tl.LoadLayout(path)
}

func layoutCommand(c *cli.Context) error {
	l, err := loadLayout(c)
	if err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}
	if out := c.String("out"); out != "" {
		return tl.SaveLayout(out, l)
	}
	b, err := l.MarshalIndent()
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func uid(c *cli.Context) (uint64, error) {
	s := c.String("uid")
	if s == "" {
		id, err := machineid.ProtectedID("wbhci")
		if err != nil {
			return 0, errors.Wrap(err, "can't read machine id, pass --uid")
		}
		s = id[:16]
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid uid %q", s)
	}
	// keep the company id an ST part carries
	return v&0xFFFFFFFFFF | uint64(identity.STCompanyID)<<40, nil
}

func identityCommand(c *cli.Context) error {
	u, err := uid(c)
	if err != nil {
		return err
	}
	sig := identity.Signature{UID64: u, DeviceID: deviceID}
	id, err := identity.Derive(sig)
	if err != nil {
		return err
	}
	fmt.Printf("signature:      %v\n", sig)
	fmt.Printf("public address: %s\n", identity.FormatAddress(id.PublicAddress))
	fmt.Printf("random address: %s\n", identity.FormatAddress(id.RandomAddress))
	fmt.Printf("IR:             % X\n", id.IRK)
	fmt.Printf("ER:             % X\n", id.ERK)
	return nil
}

// bringUp builds a simulated board and a device on it and runs Init.
func bringUp(c *cli.Context) (*sim.Board, *stm32wb.Device, error) {
	l, err := loadLayout(c)
	if err != nil {
		return nil, nil, err
	}
	u, err := uid(c)
	if err != nil {
		return nil, nil, err
	}

	factory, err := identity.ParseAddress(c.String("factory-address"))
	if err != nil {
		return nil, nil, err
	}

	region := shm.NewRegion(l.RegionSize)
	if path := c.GlobalString("shm"); path != "" {
		if region, err = shm.MapRegion(path, l.RegionSize); err != nil {
			return nil, nil, err
		}
	}
	board, err := sim.NewBoardWithRegion(l, region, sim.WithAddress(factory))
	if err != nil {
		region.Close()
		return nil, nil, err
	}

	d, err := stm32wb.NewDevice(board.Bank, board.Region,
		stm32wb.OptLayout(l),
		wbhci.OptDeviceSignature(u, deviceID),
		wbhci.OptErrorHandler(func(err error) {
			wbhci.GetLogger().Errorf("device: %v", err)
		}),
	)
	if err != nil {
		board.Close()
		return nil, nil, err
	}
	if err := board.Coprocessor.Start(); err != nil {
		d.Close()
		board.Close()
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Init(ctx); err != nil {
		d.Close()
		board.Close()
		return nil, nil, errors.Wrap(err, "init")
	}
	return board, d, nil
}

func selftestCommand(c *cli.Context) error {
	board, d, err := bringUp(c)
	if err != nil {
		return err
	}
	defer board.Close()
	defer d.Close()

	id := d.Identity()
	fmt.Printf("firmware:       %v\n", d.Firmware())
	fmt.Printf("address:        %s\n", identity.FormatAddress(d.Address()))
	fmt.Printf("random address: %s\n", identity.FormatAddress(id.RandomAddress))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload := []byte("wbhci selftest")
	if err := d.SendACL(ctx, &hci.ACLData{Handle: 0x0001, Data: payload}); err != nil {
		return errors.Wrap(err, "acl send")
	}
	a, err := d.ReceiveACL(ctx)
	if err != nil {
		return errors.Wrap(err, "acl receive")
	}
	if string(a.Data) != string(payload) {
		return errors.Errorf("acl echo mismatch: % X", a.Data)
	}

	st := d.Transport().Stats()
	ms := d.Transport().Mailbox().Stats()
	fmt.Printf("transport:      %+v\n", st)
	fmt.Printf("mailbox:        %+v\n", ms)
	fmt.Println("ok")
	return nil
}

func bridgeCommand(c *cli.Context) error {
	port, addr := c.String("port"), c.String("tcp")
	if (port == "") == (addr == "") {
		return errors.New("need exactly one of --port and --tcp")
	}

	board, d, err := bringUp(c)
	if err != nil {
		return err
	}
	defer board.Close()
	defer d.Close()

	// the bridge takes over BLE events from the controller
	d.BLE().Close()

	var rw io.ReadWriteCloser
	if port != "" {
		rw, err = h4.Open(h4.DefaultOptions(port, c.Uint("baud")))
		if err != nil {
			return err
		}
	} else {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrap(err, "can't listen")
		}
		fmt.Printf("waiting for a client on %s\n", ln.Addr())
		conn, err := ln.Accept()
		ln.Close()
		if err != nil {
			return errors.Wrap(err, "can't accept")
		}
		rw = h4.WithTimeout(conn, time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	br := h4.NewBridge(rw, d.Transport())
	err = br.Run(ctx)
	fmt.Printf("bridged: %+v\n", br.Stats())
	return err
}
