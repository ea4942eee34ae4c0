package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
}

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
	z string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualTrimmed := strings.TrimSuffix(output, "\n")
	actualParts := strings.Split(actualTrimmed, "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	// Logger name.
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	// Log message.
	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])

	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 5 {
		return
	}

	// JSON encoding of maps can be unpredictable because map iteration order can change between
	// runs. Parse the output into maps and assert on map equality.
	expectedMap := make(map[string]any)
	err = json.Unmarshal([]byte(expectedParts[5]), &expectedMap)
	test.That(t, err, test.ShouldBeNil)

	actualMap := make(map[string]any)
	err = json.Unmarshal([]byte(actualParts[5]), &actualMap)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := NewWriterLogger("impl", DEBUG, notStdout)

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:81	impl Info log`)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:45:20.764Z	INFO	impl	logging/impl_test.go:85	impl infof log`)

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806Z	INFO	impl	logging/impl_test.go:89	impl logw	{"key":"value"}`)

	logger.Infow("StructWithStruct", "key", "val", "StructWithStruct", StructWithStruct{1, User{"alice"}, "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:93	StructWithStruct	{"StructWithStruct":{"Y":{"Name":"alice"}},"key":"val"}`)

	logger.Infow("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:97	BasicStruct	{"BasicStruct":{"X":1},"implOneKey":"1val"}`)

	logger.Warnw("unpaired", "lonely")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	WARN	impl	logging/impl_test.go:101	unpaired	{"lonely":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := NewWriterLogger("levels", WARN, notStdout)

	logger.Debug("hidden")
	logger.Info("hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("shown")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	levels	logging/impl_test.go:115	shown`)

	logger.SetLevel(DEBUG)
	test.That(t, logger.Level(), test.ShouldEqual, DEBUG)
	logger.Debug("now shown")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	levels	logging/impl_test.go:121	now shown`)
}

func TestContextDebug(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := NewWriterLogger("ctx", INFO, notStdout)

	logger.CDebug(context.Background(), "hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	ctx := EnableDebugMode(context.Background(), "")
	test.That(t, IsDebugMode(ctx), test.ShouldBeTrue)
	test.That(t, len(debugLogKey(ctx)), test.ShouldEqual, 6)
	logger.CDebugw(ctx, "shown", "frame", 3)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	ctx	logging/impl_test.go:137	shown	{"frame":3}`)
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("tsdf").Sublogger("extract")
	sub.Infow("extracted", "triangles", 12)

	entries := observed.FilterMessage("extracted").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "tsdf.extract")
	test.That(t, entries[0].ContextMap()["triangles"], test.ShouldEqual, int64(12))
}

func TestLevelFromString(t *testing.T) {
	for input, expected := range map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
	} {
		level, err := LevelFromString(input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}
