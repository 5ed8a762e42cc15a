package zonestore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fireline/dispatch/internal/geometry"
)

// LoadFile populates r from a zone file: one zone per line,
// "<id> <x1> <y1> <x2> <y2>"; blank lines and '#'-prefixed comments are
// ignored; malformed lines are skipped with a warning. If path cannot be
// opened, InstallDefaultGrid is used instead and the I/O error is logged,
// not propagated — a zone-file failure is never fatal.
func LoadFile(r *Registry, path string, log *zap.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Warn("zone file unavailable, installing default grid", zap.String("path", path), zap.Error(err))
		r.InstallDefaultGrid()
		return
	}
	defer f.Close()

	n, err := loadReader(r, f, log)
	if err != nil {
		log.Warn("zone file read failed, installing default grid", zap.String("path", path), zap.Error(err))
		r.InstallDefaultGrid()
		return
	}
	if n == 0 {
		log.Info("zone file empty, installing default grid", zap.String("path", path))
		r.InstallDefaultGrid()
	}
}

func loadReader(r *Registry, rd io.Reader, log *zap.Logger) (int, error) {
	scanner := bufio.NewScanner(rd)
	loaded := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		z, err := parseZoneLine(line)
		if err != nil {
			log.Warn("skipping malformed zone line", zap.Int("line", lineNo), zap.String("text", line), zap.Error(err))
			continue
		}
		r.Put(z)
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, err
	}
	return loaded, nil
}

func parseZoneLine(line string) (geometry.Zone, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return geometry.Zone{}, fmt.Errorf("zonestore: want 5 fields, got %d", len(fields))
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return geometry.Zone{}, fmt.Errorf("zonestore: non-integer id: %w", err)
	}
	x1, err := strconv.Atoi(fields[1])
	if err != nil {
		return geometry.Zone{}, fmt.Errorf("zonestore: non-integer x1: %w", err)
	}
	y1, err := strconv.Atoi(fields[2])
	if err != nil {
		return geometry.Zone{}, fmt.Errorf("zonestore: non-integer y1: %w", err)
	}
	x2, err := strconv.Atoi(fields[3])
	if err != nil {
		return geometry.Zone{}, fmt.Errorf("zonestore: non-integer x2: %w", err)
	}
	y2, err := strconv.Atoi(fields[4])
	if err != nil {
		return geometry.Zone{}, fmt.Errorf("zonestore: non-integer y2: %w", err)
	}
	return geometry.NewZone(id, x1, y1, x2, y2)
}

// InstallDefaultGrid installs a grid of single-point zones per r's
// GridParams (default: 3 columns x 4 rows at spacing 10), used when no
// zone file is present or the file is empty.
func (r *Registry) InstallDefaultGrid() {
	p := r.params
	id := 1
	for row := 0; row < p.Rows; row++ {
		for col := 0; col < p.Columns; col++ {
			center := geometry.Location{X: col * p.Spacing, Y: row * p.Spacing}
			r.Put(geometry.NewPointZone(id, center))
			id++
		}
	}
}
