package roster

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadImport(t *testing.T) {
	src := `
members:
  - user: 1
    guild: 9
characters:
  - name: Foo
    realm: Argent Dawn
    guild: 9
    user: 1
    main: true
    keys:
      - dungeon: Ara-Kara
        level: 12
        affixes: [Tyrannical]
        completed: true
  - name: Bar
    realm: silvermoon
    active: false
`
	f, err := LoadImport(strings.NewReader(src))
	require.NoError(t, err)

	require.Len(t, f.Members, 1)
	assert.Equal(t, ImportMember{User: 1, Guild: 9}, f.Members[0])

	require.Len(t, f.Characters, 2)
	foo := f.Characters[0].Character()
	assert.Equal(t, "foo", foo.Name)
	assert.Equal(t, "argent-dawn", foo.Realm)
	require.NotNil(t, foo.UserID)
	assert.Equal(t, int64(1), *foo.UserID)
	assert.True(t, foo.IsMain)
	assert.True(t, foo.IsActive)
	require.Len(t, f.Characters[0].Keys, 1)
	assert.Equal(t, []string{"Tyrannical"}, f.Characters[0].Keys[0].Affixes)

	bar := f.Characters[1].Character()
	assert.False(t, bar.IsActive)
	assert.Nil(t, bar.UserID)
}

func TestLoadImport_Empty(t *testing.T) {
	f, err := LoadImport(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Characters)
}

func TestLoadImport_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown field": "characters:\n  - name: a\n    realm: b\n    mian: true\n",
		"missing realm": "characters:\n  - name: a\n",
		"bad key":       "characters:\n  - name: a\n    realm: b\n    keys:\n      - dungeon: x\n        level: 0\n",
		"bad member":    "members:\n  - user: 0\n    guild: 1\n",
		"not yaml":      "characters: [",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadImport(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}
