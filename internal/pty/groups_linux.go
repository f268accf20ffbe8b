//go:build linux

package pty

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
)

// SessionGroups returns the process groups that have a live member in
// session sid. Background and stopped jobs of an interactive shell sit in
// groups of their own, so signalling only the leader's group misses them.
func SessionGroups(sid int) []ProcessGroup {
	if sid <= 0 {
		return nil
	}
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	seen := make(map[int]bool)
	var groups []ProcessGroup
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}
		pgrp, session, ok := readStat(pid)
		if !ok || session != sid || seen[pgrp] {
			continue
		}
		seen[pgrp] = true
		groups = append(groups, ProcessGroup{ID: pgrp})
	}
	return groups
}

// readStat parses the process group and session of pid from
// /proc/<pid>/stat. Zombies are reported as not ok.
func readStat(pid int) (pgrp, session int, ok bool) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, 0, false
	}
	// comm is parenthesised and may itself contain spaces or parens.
	end := bytes.LastIndexByte(data, ')')
	if end < 0 {
		return 0, 0, false
	}
	// state ppid pgrp session ...
	fields := bytes.Fields(data[end+1:])
	if len(fields) < 4 || string(fields[0]) == "Z" {
		return 0, 0, false
	}
	pgrp, err1 := strconv.Atoi(string(fields[2]))
	session, err2 := strconv.Atoi(string(fields[3]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return pgrp, session, true
}
