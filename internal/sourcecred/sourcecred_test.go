package sourcecred_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/sourcecred"
)

func genKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	return key
}

func TestKeyManager_WrapUnwrapRoundTrip(t *testing.T) {
	km := sourcecred.NewKeyManager()
	require.NoError(t, km.LoadStatic(map[string][]byte{"k1": genKey(t)}, "k1"))

	creds := model.Credentials{Username: "admin", Password: "hunter2"}
	p, err := km.Wrap("cam1", creds)
	require.NoError(t, err)
	require.Equal(t, "k1", p.MasterKID)

	out, err := km.Unwrap("cam1", p)
	require.NoError(t, err)
	require.Equal(t, creds, out)
}

func TestKeyManager_WrongCameraIDFailsAADBinding(t *testing.T) {
	km := sourcecred.NewKeyManager()
	require.NoError(t, km.LoadStatic(map[string][]byte{"k1": genKey(t)}, "k1"))

	p, err := km.Wrap("cam1", model.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)

	_, err = km.Unwrap("cam2", p)
	require.Error(t, err)
}

func TestKeyManager_RotationStillUnwrapsOldCiphertext(t *testing.T) {
	km := sourcecred.NewKeyManager()
	require.NoError(t, km.LoadStatic(map[string][]byte{"k1": genKey(t)}, "k1"))

	p, err := km.Wrap("cam1", model.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)

	k2 := genKey(t)
	k2[0] ^= 0xFF
	require.NoError(t, km.LoadStatic(map[string][]byte{"k1": genKey(t), "k2": k2}, "k2"))

	out, err := km.Unwrap("cam1", p)
	require.NoError(t, err)
	require.Equal(t, "u", out.Username)
}

func TestKeyManager_UnknownMasterKID(t *testing.T) {
	km := sourcecred.NewKeyManager()
	require.NoError(t, km.LoadStatic(map[string][]byte{"k1": genKey(t)}, "k1"))

	p, err := km.Wrap("cam1", model.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	p.MasterKID = "missing"

	_, err = km.Unwrap("cam1", p)
	require.ErrorIs(t, err, sourcecred.ErrKeyNotFound)
}

func TestKeyManager_LoadFromEnv(t *testing.T) {
	key := genKey(t)
	keys := []map[string]string{
		{"kid": "env-key", "material": base64.StdEncoding.EncodeToString(key)},
	}
	raw, err := json.Marshal(keys)
	require.NoError(t, err)

	t.Setenv("SOURCECRED_MASTER_KEYS", string(raw))
	t.Setenv("SOURCECRED_ACTIVE_KID", "env-key")

	km := sourcecred.NewKeyManager()
	require.NoError(t, km.LoadFromEnv())

	p, err := km.Wrap("cam7", model.Credentials{Username: "a", Password: "b"})
	require.NoError(t, err)
	out, err := km.Unwrap("cam7", p)
	require.NoError(t, err)
	require.Equal(t, "a", out.Username)
}

func TestKeyManager_LoadFromEnvMissingActiveKey(t *testing.T) {
	t.Setenv("SOURCECRED_MASTER_KEYS", `[{"kid":"x","material":""}]`)
	t.Setenv("SOURCECRED_ACTIVE_KID", "")

	km := sourcecred.NewKeyManager()
	require.Error(t, km.LoadFromEnv())
}
