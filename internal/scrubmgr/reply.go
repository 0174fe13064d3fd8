/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package scrubmgr

import (
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

// ScrubReply is the opaque artifact a scrub worker produces: this core never interprets Result,
// only compares replies for equality and uses Namespace to validate queueing requests.
type ScrubReply struct {
	Namespace ids.Namespace
	Snapshot  ids.SnapshotName
	ResultId  string
}

type wireReply struct {
	Namespace string `msgpack:"namespace"`
	Snapshot  string `msgpack:"snapshot"`
	ResultId  string `msgpack:"result_id"`
}

// key renders a deterministic, reversible key-segment for reply, used as the suffix of its parent
// queue and clone index keys.
func (r ScrubReply) key() (string, error) {
	data, err := msgpack.Marshal(wireReply{
		Namespace: string(r.Namespace),
		Snapshot:  string(r.Snapshot),
		ResultId:  r.ResultId,
	})
	if err != nil {
		return "", fmt.Errorf("encoding scrub reply key: %w", err)
	}
	return hex.EncodeToString(data), nil
}

// decodeReplyKey recovers the ScrubReply a key segment produced by (ScrubReply).key encodes.
func decodeReplyKey(key string) (ScrubReply, error) {
	data, err := hex.DecodeString(key)
	if err != nil {
		return ScrubReply{}, fmt.Errorf("decoding scrub reply key %q: %w", key, err)
	}
	var w wireReply
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return ScrubReply{}, fmt.Errorf("decoding scrub reply key %q: %w", key, err)
	}
	return ScrubReply{
		Namespace: ids.Namespace(w.Namespace),
		Snapshot:  ids.SnapshotName(w.Snapshot),
		ResultId:  w.ResultId,
	}, nil
}
