// Package config holds the RunConfig parameter vector, the hpcg.dat option
// file reader and the dimension-snapping rule (spec.md §6); cmd/hpcg-go
// parses the command line. The option file is read in the teacher's plain,
// allocation-light parsing style (no third-party config format, since its
// layout is fixed-line rather than key/value).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
)

// RunConfig is the ten-integer parameter vector spec.md §6 describes rank
// 0 broadcasting after reading command line/option-file input:
// (nx,ny,nz,npx,npy,npz,pz,zl,zu,rt).
type RunConfig struct {
	Nx, Ny, Nz    int
	Npx, Npy, Npz int
	Pz, Zl, Zu    int
	RunTimeSec    int
}

// ToVector packs RunConfig into the ten-integer broadcast vector
// comm.World.Broadcast expects.
func (c RunConfig) ToVector() [10]int64 {
	return [10]int64{
		int64(c.Nx), int64(c.Ny), int64(c.Nz),
		int64(c.Npx), int64(c.Npy), int64(c.Npz),
		int64(c.Pz), int64(c.Zl), int64(c.Zu),
		int64(c.RunTimeSec),
	}
}

// FromVector unpacks a broadcast ten-integer vector into a RunConfig.
func FromVector(v [10]int64) RunConfig {
	return RunConfig{
		Nx: int(v[0]), Ny: int(v[1]), Nz: int(v[2]),
		Npx: int(v[3]), Npy: int(v[4]), Npz: int(v[5]),
		Pz: int(v[6]), Zl: int(v[7]), Zu: int(v[8]),
		RunTimeSec: int(v[9]),
	}
}

// SnapDims replaces any dimension below 16 with the max of the three
// dimensions, floored at 16 (spec.md §6, matching the original's "Check
// for small or unspecified nx, ny, nz values" loop).
func SnapDims(nx, ny, nz int) (int, int, int) {
	d := [3]int{nx, ny, nz}
	for i := 0; i < 3; i++ {
		if d[i] < 16 {
			for j := 1; j <= 2; j++ {
				if d[(i+j)%3] > d[i] {
					d[i] = d[(i+j)%3]
				}
			}
		}
		if d[i] < 16 {
			d[i] = 16
		}
	}
	return d[0], d[1], d[2]
}

// ReadOptionsFile parses hpcg.dat's fixed layout (spec.md §6): two ignored
// header lines, a third line "nx ny nz", and a fourth line "rt" (seconds)
// -- skipped when haveRunTime is already true, i.e. --rt was given on the
// command line.
func ReadOptionsFile(path string, haveRunTime bool) (nx, ny, nz, rt int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("config: opening options file %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := make([]string, 0, 4)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) == 4 {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("config: reading options file %s: %w", path, err)
	}
	if len(lines) < 3 {
		return 0, 0, 0, 0, fmt.Errorf("config: options file %s has fewer than 3 lines", path)
	}

	if _, err := fmt.Sscanf(lines[2], "%d %d %d", &nx, &ny, &nz); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("config: parsing dims line %q: %w", lines[2], err)
	}

	if haveRunTime || len(lines) < 4 {
		return nx, ny, nz, rt, nil
	}
	rt, err = strconv.Atoi(trimLine(lines[3]))
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("config: parsing runtime line %q: %w", lines[3], err)
	}
	return nx, ny, nz, rt, nil
}

func trimLine(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
