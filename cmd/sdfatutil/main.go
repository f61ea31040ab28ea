// Command sdfatutil exercises the sdfat driver against a raw disk image
// file instead of a real SPI card, for development and scripted testing.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nimblefs/sdfat"
)

func main() {
	app := cli.App{
		Name:  "sdfatutil",
		Usage: "Inspect and populate a FAT32 disk image",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List the root directory of an image",
				ArgsUsage: "IMAGE",
				Action:    cmdList,
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				ArgsUsage: "IMAGE NAME",
				Action:    cmdCat,
			},
			{
				Name:      "put",
				Usage:     "Copy a local file into the image's root directory",
				ArgsUsage: "IMAGE LOCAL_FILE NAME",
				Action:    cmdPut,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func openFs(c *cli.Context, path string) (*sdfat.Fs, *fileDevice, error) {
	var log *slog.Logger
	if c.Bool("verbose") {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug - 2}))
	}
	dev, err := openFileDevice(path)
	if err != nil {
		return nil, nil, err
	}
	fs := sdfat.New(dev, sdfat.Large, log)
	if err := fs.Mount(); err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("mount %s: %w", path, err)
	}
	return fs, dev, nil
}

func cmdList(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("usage: sdfatutil ls IMAGE", 1)
	}
	fs, dev, err := openFs(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fs.Unmount()

	entries, err := fs.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "FILE"
		if e.IsDir {
			kind = "DIR "
		}
		fmt.Printf("%s  %8d  %s\n", kind, e.Size, e.Name)
	}
	return nil
}

func cmdCat(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: sdfatutil cat IMAGE NAME", 1)
	}
	fs, dev, err := openFs(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fs.Unmount()

	id, err := fs.Open(c.Args().Get(1), sdfat.ReadOnly)
	if err != nil {
		return err
	}
	defer fs.Close(id)

	buf := make([]byte, 4096)
	for {
		n, err := fs.Read(id, buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if n == 0 || err != nil {
			break
		}
	}
	return nil
}

func cmdPut(c *cli.Context) error {
	if c.Args().Len() < 3 {
		return cli.Exit("usage: sdfatutil put IMAGE LOCAL_FILE NAME", 1)
	}
	fs, dev, err := openFs(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fs.Unmount()

	src, err := os.ReadFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	id, err := fs.Open(c.Args().Get(2), sdfat.ReadWrite)
	if err != nil {
		return err
	}
	defer fs.Close(id)

	for written := 0; written < len(src); {
		n, err := fs.Write(id, src[written:])
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}
