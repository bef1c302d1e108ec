package symbol

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const mapsFields = 6

// MappedRegion is one line of /proc/<pid>/maps. Path may be empty or a
// pseudo path such as [stack] or "/lib/x.so (deleted)".
type MappedRegion struct {
	Path   string
	Perms  string
	Begin  uint64
	End    uint64
	Offset uint64
}

// IsFile reports whether the region is backed by a regular file path.
func (region *MappedRegion) IsFile() bool {
	return strings.HasPrefix(region.Path, "/")
}

func parseHex(field string) (uint64, error) {
	return strconv.ParseUint(field, 16, 64)
}

// ParseMapLine parses "begin-end perms offset dev inode path".
func ParseMapLine(line string) (MappedRegion, error) {
	var region MappedRegion

	fields := strings.SplitN(line, " ", mapsFields)
	if len(fields) != mapsFields {
		return region, fmt.Errorf("expected %d fields, got %d", mapsFields, len(fields))
	}

	begin, end, found := strings.Cut(fields[0], "-")
	if !found {
		return region, fmt.Errorf("address range [%s] has no separator", fields[0])
	}

	var err error
	if region.Begin, err = parseHex(begin); err != nil {
		return region, errors.Wrap(err, "begin address")
	}
	if region.End, err = parseHex(end); err != nil {
		return region, errors.Wrap(err, "end address")
	}
	if region.Offset, err = parseHex(fields[2]); err != nil {
		return region, errors.Wrap(err, "offset")
	}
	region.Perms = fields[1]
	region.Path = strings.TrimSpace(fields[5])
	return region, nil
}

// ParseMaps parses a complete memory map snapshot. A single malformed line
// fails the whole snapshot.
func ParseMaps(reader io.Reader) ([]MappedRegion, error) {
	regions := []MappedRegion{}

	scanner := bufio.NewScanner(reader)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := scanner.Text()
		region, err := ParseMapLine(line)
		if err != nil {
			return nil, &MapFormatError{Line: lineNum, Text: line, Err: err}
		}
		regions = append(regions, region)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read memory map")
	}
	return regions, nil
}

// ProcessInfo pairs a memory map snapshot with the command line the process
// reports, which it may have rewritten.
type ProcessInfo struct {
	Pid     int            `json:"pid"`
	Cmdline string         `json:"cmdline"`
	Regions []MappedRegion `json:"-"`
}

// ParseCmdline turns the NUL separated /proc/<pid>/cmdline content into a
// space separated string.
func ParseCmdline(data []byte) string {
	return strings.ReplaceAll(strings.TrimRight(string(data), "\x00"), "\x00", " ")
}

func ReadProcessInfo(pid int) (*ProcessInfo, error) {
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, err
	}
	regions, err := ReadProcessMaps(pid)
	if err != nil {
		return nil, err
	}

	return &ProcessInfo{
		Pid:     pid,
		Cmdline: ParseCmdline(cmdline),
		Regions: regions,
	}, nil
}

// ReadProcessMaps snapshots /proc/<pid>/maps.
func ReadProcessMaps(pid int) ([]MappedRegion, error) {
	mapsPath := fmt.Sprintf("/proc/%d/maps", pid)
	fp, err := os.Open(mapsPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	regions, err := ParseMaps(fp)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse [%s]", mapsPath)
	}
	return regions, nil
}
