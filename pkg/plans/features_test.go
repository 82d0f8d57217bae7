package plans

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureValue_Grants(t *testing.T) {
	assert.True(t, Bool(true).Grants())
	assert.False(t, Bool(false).Grants())
	assert.True(t, Quantity(1).Grants())
	assert.True(t, Quantity(Unlimited).Grants())
	assert.False(t, Quantity(0).Grants(), "zero limit is the same as disabled")
}

func TestFeatureValue_TagsAreNotConflated(t *testing.T) {
	assert.Equal(t, int64(0), Bool(true).Limit())
	assert.False(t, Quantity(5).Enabled())
	assert.False(t, Bool(true).IsUnlimited())
	assert.True(t, Quantity(Unlimited).IsUnlimited())
	assert.False(t, Quantity(0).IsUnlimited())
}

func TestFeatureValue_AtLeast(t *testing.T) {
	assert.True(t, Quantity(Unlimited).AtLeast(Quantity(1000)))
	assert.False(t, Quantity(1000).AtLeast(Quantity(Unlimited)))
	assert.True(t, Quantity(10).AtLeast(Quantity(10)))
	assert.False(t, Quantity(9).AtLeast(Quantity(10)))
	assert.True(t, Bool(true).AtLeast(Bool(false)))
	assert.True(t, Bool(false).AtLeast(Bool(false)))
	assert.False(t, Bool(false).AtLeast(Bool(true)))
	assert.False(t, Bool(true).AtLeast(Quantity(0)), "different kinds never compare")
}

func TestFeatureValue_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]FeatureValue{
		"a": Bool(true),
		"b": Quantity(Unlimited),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": true, "b": -1}`, string(data))

	var v FeatureValue
	require.NoError(t, json.Unmarshal([]byte("12"), &v))
	assert.Equal(t, Quantity(12), v)

	require.NoError(t, json.Unmarshal([]byte("false"), &v))
	assert.Equal(t, Bool(false), v)

	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &v))
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, 19)
	assert.Contains(t, keys, FeatureAPIAccess)
	assert.Contains(t, keys, FeatureMaxMonthlyCredits)

	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}

	assert.False(t, FeatureKey("hasTeleportation").IsKnown())
}
