package journal

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"slices"
)

// StateEvents — события, из которых восстанавливается состояние корабля при старте.
var StateEvents = []string{
	"LoadGame", "Location", "FSDJump", "Docked", "Undocked",
	"SupercruiseEntry", "SupercruiseExit", "ShipRefuelled", "ShieldState", "Cargo",
}

// LatestFile возвращает самый свежий файл журнала в каталоге (пустая строка, если файлов нет).
func LatestFile(dir, pattern string) (string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	r := &Reader{dir: dir, pattern: pattern, retired: map[string]struct{}{}}
	return r.latest()
}

// ReadHistory читает уже записанную часть журнала и возвращает записи из списка events,
// начиная с последнего LoadGame (более ранние относятся к прошлой сессии). Битые строки пропускаются.
func ReadHistory(path string, events []string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		out    []Record
		offset int64
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		start := offset
		offset += int64(len(line)) + 1
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			continue
		}
		if rec.Event == "LoadGame" {
			out = out[:0]
		}
		if len(events) > 0 && !slices.Contains(events, rec.Event) {
			continue
		}
		rec.File = filepath.Clean(path)
		rec.Offset = start
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	return out, nil
}
