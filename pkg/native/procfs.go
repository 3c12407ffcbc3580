package native

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var mapsRegexp = regexp.MustCompile(`^([0-9a-f]+)-([0-9a-f]+)\s+([rwxps-]+)\s+([0-9a-f]+)\s+([0-9a-f]+:[0-9a-f]+)\s+(\d+)(?:\s+(.*))?$`)

// parseModules groups the file backed mappings of /proc/pid/maps by path,
// each group is one module spanning from its lowest to its highest address.
func parseModules(r io.Reader) ([]Module, error) {
	byPath := map[string]*Module{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		match := mapsRegexp.FindStringSubmatch(scanner.Text())
		if len(match) < 7 {
			continue
		}
		path := strings.TrimSpace(match[7])
		// anonymous mappings, [heap], [stack], [vdso] ...
		if !strings.HasPrefix(path, "/") {
			continue
		}
		path = strings.TrimSuffix(path, " (deleted)")

		start, err := strconv.ParseUint(match[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse maps start %s error: %v", match[1], err)
		}
		end, err := strconv.ParseUint(match[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse maps end %s error: %v", match[2], err)
		}

		m, ok := byPath[path]
		if !ok {
			byPath[path] = &Module{Path: path, Base: start, Size: end - start}
			continue
		}
		last := m.Base + m.Size
		if start < m.Base {
			m.Base = start
		}
		if end > last {
			last = end
		}
		m.Size = last - m.Base
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	mods := make([]Module, 0, len(byPath))
	for _, m := range byPath {
		mods = append(mods, *m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Base < mods[j].Base })
	return mods, nil
}

func readProcModules(pid int) ([]Module, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseModules(f)
}

// diffModules returns the modules present in cur but not in prev, and those
// present in prev but gone from cur.
func diffModules(prev, cur []Module) (loaded, unloaded []Module) {
	prevSet := map[Module]bool{}
	for _, m := range prev {
		prevSet[m] = true
	}
	curSet := map[Module]bool{}
	for _, m := range cur {
		curSet[m] = true
		if !prevSet[m] {
			loaded = append(loaded, m)
		}
	}
	for _, m := range prev {
		if !curSet[m] {
			unloaded = append(unloaded, m)
		}
	}
	return loaded, unloaded
}

// readProcComm read /proc/pid/comm or /proc/pid/stat to load the command name of process.
func readProcComm(pid int) (string, error) {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		comm = bytes.TrimSuffix(comm, []byte("\n"))
	}

	if len(comm) == 0 {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return "", fmt.Errorf("could not read proc stat: %v", err)
		}
		comm, err = parseStatComm(pid, stat)
		if err != nil {
			return "", err
		}
	}
	return string(comm), nil
}

func parseStatComm(pid int, stat []byte) ([]byte, error) {
	expr := fmt.Sprintf("%d\\s*\\((.*)\\)", pid)
	rexp, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("regexp compile error: %v", err)
	}
	match := rexp.FindSubmatch(stat)
	if match == nil {
		return nil, fmt.Errorf("no match found using regexp '%s' in /proc/%d/stat", expr, pid)
	}
	return match[1], nil
}
