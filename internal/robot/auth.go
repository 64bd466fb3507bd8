package robot

import (
	"fmt"
	"strconv"
)

const maxUsernameLen = 18

// Authenticate runs the username / key-id / hash-exchange handshake
// against the fixed 5-row key table. On success the client has
// received "200 OK" and the session may proceed to navigation.
func (r *Robot) Authenticate() error {
	username, err := r.GetResponse(ExpectedUsername.Cap())
	if err != nil {
		return err
	}
	if len(username) > maxUsernameLen {
		return SyntaxError(fmt.Errorf("username length %d exceeds %d", len(username), maxUsernameLen))
	}

	if err := r.send(CmdKeyRequest); err != nil {
		return err
	}

	keyResp, err := r.GetResponse(ExpectedKeyID.Cap())
	if err != nil {
		return err
	}
	keyID, err := parseKeyID(keyResp)
	if err != nil {
		return err
	}
	if keyID < 0 || keyID > 4 {
		return KeyOutOfRangeError()
	}

	hash := usernameHash(username)
	serverHash := (hash + keys[keyID].server) % 65536
	if err := r.send(strconv.Itoa(serverHash)); err != nil {
		return err
	}

	confResp, err := r.GetResponse(ExpectedConfirmation.Cap())
	if err != nil {
		return err
	}
	confirmation, err := parseConfirmation(confResp)
	if err != nil {
		return err
	}

	expected := (hash + keys[keyID].client) % 65536
	if confirmation != expected {
		return LoginFailedError()
	}

	return r.send(CmdOK)
}

// usernameHash computes H = ((sum of raw byte values) * 1000) mod 65536.
// The username channel is treated as raw bytes (no decoding), so this is
// well-defined even for input containing non-ASCII bytes.
func usernameHash(username string) int {
	sum := 0
	for i := 0; i < len(username); i++ {
		sum += int(username[i])
	}
	return (sum * 1000) % 65536
}
