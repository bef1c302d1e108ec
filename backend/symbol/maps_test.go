package symbol

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMaps = `00400000-00452000 r-xp 00000000 08:02 173521      /bin/app
00651000-00652000 rw-p 00051000 08:02 173521      /bin/app
01c8e000-01caf000 rw-p 00000000 00:00 0           [heap]
7f1e5a9b4000-7f1e5ab72000 r-xp 00000000 08:02 135522  /lib/x86_64-linux-gnu/libc-2.19.so (deleted)
7ffc8a5d4000-7ffc8a5f5000 rw-p 00000000 00:00 0 
7ffc8a5f5000-7ffc8a5f6000 rw-p 00000000 00:00 0                          [stack]
`

func TestParseMaps(t *testing.T) {
	regions, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, regions, 6)

	require.Equal(t, MappedRegion{
		Path:   "/bin/app",
		Perms:  "r-xp",
		Begin:  0x400000,
		End:    0x452000,
		Offset: 0,
	}, regions[0])
	require.Equal(t, uint64(0x51000), regions[1].Offset)
	require.Equal(t, "[heap]", regions[2].Path)
	require.Equal(t, "/lib/x86_64-linux-gnu/libc-2.19.so (deleted)", regions[3].Path)
	require.Equal(t, "", regions[4].Path)
	require.Equal(t, "[stack]", regions[5].Path)

	require.True(t, regions[0].IsFile())
	require.False(t, regions[2].IsFile())
	require.False(t, regions[4].IsFile())
}

func TestParseMapLineHexRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0xdeadbeef, 0x7fffffffffff, ^uint64(0)}
	for _, value := range values {
		line := fmt.Sprintf("%x-%x r--p %x 00:00 0 /x", value, value, value)
		region, err := ParseMapLine(line)
		require.NoError(t, err)
		require.Equal(t, value, region.Begin)
		require.Equal(t, value, region.End)
		require.Equal(t, value, region.Offset)
	}
}

func TestParseMapsRejectsWholeSnapshot(t *testing.T) {
	cases := map[string]string{
		"missing path field": "00400000-00452000 r-xp 00000000 08:02 173521",
		"no range separator": "00400000 r-xp 00000000 08:02 173521 /bin/app",
		"bad begin":          "zz400000-00452000 r-xp 00000000 08:02 173521 /bin/app",
		"bad end":            "00400000-zz r-xp 00000000 08:02 173521 /bin/app",
		"bad offset":         "00400000-00452000 r-xp offset 08:02 173521 /bin/app",
	}

	for name, badLine := range cases {
		t.Run(name, func(t *testing.T) {
			input := "00400000-00452000 r-xp 00000000 08:02 173521 /bin/app\n" + badLine + "\n"
			regions, err := ParseMaps(strings.NewReader(input))
			require.Nil(t, regions)

			var formatErr *MapFormatError
			require.ErrorAs(t, err, &formatErr)
			require.Equal(t, 2, formatErr.Line)
			require.Equal(t, badLine, formatErr.Text)
		})
	}
}

func TestParseMapsEmpty(t *testing.T) {
	regions, err := ParseMaps(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, regions)
}

func TestReadProcessMapsSelf(t *testing.T) {
	regions, err := ReadProcessMaps(os.Getpid())
	require.NoError(t, err)
	require.NotEmpty(t, regions)
}

func TestParseCmdline(t *testing.T) {
	require.Equal(t, "/bin/app --flag value", ParseCmdline([]byte("/bin/app\x00--flag\x00value\x00")))
	require.Equal(t, "renamed worker", ParseCmdline([]byte("renamed worker")))
	require.Equal(t, "", ParseCmdline(nil))
}

func TestReadProcessInfoSelf(t *testing.T) {
	info, err := ReadProcessInfo(os.Getpid())
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), info.Pid)
	require.Equal(t, strings.Join(os.Args, " "), info.Cmdline)
	require.NotEmpty(t, info.Regions)
}

func TestReadProcessInfoMissingProcess(t *testing.T) {
	_, err := ReadProcessInfo(0x7ffffff0)
	require.ErrorIs(t, err, os.ErrNotExist)
}
