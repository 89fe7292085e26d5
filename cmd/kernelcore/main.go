// Command kernelcore wires the sector cache, swap table, frame table,
// and process kernel together over a file-backed block device, loads
// one registered program (ELF load plus argument stack) and reports its
// tid, then flushes the sector cache, as a minimal demonstration of the
// boot sequence a real kernel's entry point would perform. No user code
// is executed and the process is not waited for.
//
// It is grounded on the teacher kernel's mkfs/mkfs.go main: plain
// os.Args parsing, a fmt.Printf usage line on misuse, and os.Exit(1) on
// failure, with no flag package — the teacher has no retrieved
// kernel/main.go boot sequence to imitate instead.
package main

import (
	"fmt"
	"os"

	"kerncore/internal/blockdev"
	"kerncore/internal/config"
	"kerncore/internal/console"
	"kerncore/internal/diag"
	"kerncore/internal/frametab"
	"kerncore/internal/proc"
	"kerncore/internal/sectorcache"
	"kerncore/internal/swap"
)

func usage() {
	fmt.Printf("usage: kernelcore <disk-image> <program-name> <data-sector> <length-bytes> [args...]\n")
}

func main() {
	if len(os.Args) < 5 {
		usage()
		os.Exit(1)
	}

	diskPath := os.Args[1]
	progName := os.Args[2]
	dataSector, err := parseInt(os.Args[3])
	if err != nil {
		fmt.Printf("kernelcore: bad data-sector: %v\n", err)
		os.Exit(1)
	}
	length, err := parseInt(os.Args[4])
	if err != nil {
		fmt.Printf("kernelcore: bad length: %v\n", err)
		os.Exit(1)
	}

	cmdLine := progName
	for _, a := range os.Args[5:] {
		cmdLine += " " + a
	}

	cfg := config.Default()

	// The leading region of the device is reserved for swap; the
	// program's data-sector argument is relative to the first sector
	// past that reservation, so dataSector stays stable regardless of
	// how the swap pool is sized.
	swapSectors := cfg.SwapSlots * swap.SectorsPerSlot
	startSector := swapSectors + dataSector
	nsectors := startSector + (length+blockdev.SectorSize-1)/blockdev.SectorSize

	dev, oerr := blockdev.Open(diskPath, nsectors)
	if oerr != nil {
		fmt.Printf("kernelcore: opening %s: %v\n", diskPath, oerr)
		os.Exit(1)
	}
	defer dev.Close()

	cache := sectorcache.New(dev, cfg.SectorCacheSlots)
	swapTbl := swap.New(dev, cfg.SwapSlots)
	frames := frametab.New(cfg.UserFrames)

	kern := proc.NewKernel(cfg, cache, swapTbl, frames)
	kern.RegisterProgram(progName, startSector, length)

	console.Debug = os.Getenv("KERNELCORE_DEBUG") != ""

	tid, eerr := kern.ProcessExecute(nil, cmdLine)
	if eerr != 0 {
		fmt.Printf("kernelcore: process_execute(%q) failed: %d\n", cmdLine, eerr)
		os.Exit(1)
	}
	fmt.Printf("kernelcore: started %q as tid %d\n", cmdLine, tid)

	if dumpPath := os.Getenv("KERNELCORE_DIAG"); dumpPath != "" {
		f, cerr := os.Create(dumpPath)
		if cerr == nil {
			diag.Write(f, frames, cache)
			f.Close()
		}
	}

	if werr := cache.Flush(); werr != 0 {
		fmt.Printf("kernelcore: flush failed: %d\n", werr)
		os.Exit(1)
	}
}

func parseInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
