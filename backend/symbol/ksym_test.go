package symbol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKallsyms = `ffffffff81000000 T startup_64
ffffffff81000200 t secondary_startup_64
ffffffff82000000 D init_data
ffffffff82001000 b bss_thing
ffffffffc0000000 t ext4_read [ext4]
bad line
`

func TestLoadKsymCache(t *testing.T) {
	ksyms, err := LoadKsymCache(strings.NewReader(testKallsyms))
	require.NoError(t, err)
	require.Equal(t, 3, ksyms.Len())
	require.Equal(t, "ext4", ksyms.ksymRecords[2].Module)
}

func TestKsymCacheResolve(t *testing.T) {
	ksyms, err := LoadKsymCache(strings.NewReader(testKallsyms))
	require.NoError(t, err)

	cases := map[uint64]string{
		0xffffffff80000000: "",
		0xffffffff81000000: "startup_64",
		0xffffffff810001ff: "startup_64",
		0xffffffff81000200: "secondary_startup_64",
		0xffffffff82000500: "secondary_startup_64",
		0xffffffffc0000010: "ext4_read [ext4]",
	}
	for addr, want := range cases {
		require.Equal(t, want, ksyms.Resolve(addr), "addr 0x%x", addr)
		require.Equal(t, want, ksyms.Resolve(addr), "cached addr 0x%x", addr)
	}
}

func TestIsKernelAddress(t *testing.T) {
	require.True(t, IsKernelAddress(0xffffffff81000000))
	require.True(t, IsKernelAddress(0xffff800000000000))
	require.False(t, IsKernelAddress(0x7fffffffffff))
	require.False(t, IsKernelAddress(0x400000))
}

func TestKsymCacheHiddenAddresses(t *testing.T) {
	restricted := `0000000000000000 T startup_64
0000000000000000 t secondary_startup_64
0000000000000000 t ext4_read [ext4]
`
	ksyms, err := LoadKsymCache(strings.NewReader(restricted))
	require.NoError(t, err)
	require.Equal(t, 0, ksyms.Len())
	require.Equal(t, "", ksyms.Resolve(0xffffffff81000000))
}
