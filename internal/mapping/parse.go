package mapping

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// parseTable parses one category table. The first line is a header.
//
// Rows are intermediate,official,side[,comment...]. A comment may itself
// contain commas, so every field past the third is joined back together.
func parseTable(version string, t Type, data []byte) ([]Record, error) {
	entry := t.Info().Entry
	var records []Record

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimSuffix(scanner.Text(), "\r")
		if text == "" {
			continue
		}

		fields := strings.Split(text, ",")
		if len(fields) < 3 {
			return nil, &ParseError{Version: version, Entry: entry, Line: line, Detail: "expected at least 3 fields"}
		}
		side, err := parseSide(fields[2])
		if err != nil {
			return nil, &ParseError{Version: version, Entry: entry, Line: line, Detail: err.Error()}
		}

		comment := ""
		if len(fields) > 3 {
			comment = strings.Join(fields[3:], ",")
		}
		records = append(records, Record{
			Type:         t,
			Intermediate: fields[0],
			Official:     optional(fields[1]),
			Comment:      optional(comment),
			Side:         side,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Version: version, Entry: entry, Line: line + 1, Detail: err.Error()}
	}
	return records, nil
}

func parseSide(field string) (Side, error) {
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, errors.Errorf("side %q is not a number", field)
	}
	if n < 0 || n >= len(sideNames) {
		return 0, errors.Errorf("side index %d out of range", n)
	}
	return Side(n), nil
}

// ownerHeaders are first-column values that mark a header row.
var ownerHeaders = map[string]bool{
	"intermediate": true,
	"searge":       true,
	"srg":          true,
}

// parseOwners parses rows of intermediate,owner[,descriptor].
func parseOwners(version, entry string, data []byte) ([]OwnerRecord, error) {
	var owners []OwnerRecord

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Split(text, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if line == 1 && ownerHeaders[strings.ToLower(fields[0])] {
			continue
		}
		if len(fields) < 2 || fields[0] == "" {
			return nil, &ParseError{Version: version, Entry: entry, Line: line, Detail: "expected intermediate,owner"}
		}

		rec := OwnerRecord{
			Type:         typeForIntermediate(fields[0]),
			Intermediate: fields[0],
			Owner:        fields[1],
		}
		if len(fields) > 2 {
			rec.Descriptor = optional(fields[2])
		}
		owners = append(owners, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Version: version, Entry: entry, Line: line + 1, Detail: err.Error()}
	}
	return owners, nil
}
