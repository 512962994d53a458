// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import "sort"

// Message types shared by every version.
const (
	TypeKeepAlive  byte = 0x00
	TypeLogin      byte = 0x01
	TypeHandshake  byte = 0x02
	TypeChat       byte = 0x03
	TypeServerPing byte = 0xfe
	TypeDisconnect byte = 0xff
)

var versions = buildVersions()

// Lookup returns the table for a protocol version.
func Lookup(version int32) (*Table, bool) {
	t, ok := versions[version]
	return t, ok
}

// Base returns the version-independent table used before the login message.
func Base() *Table {
	return versions[0]
}

// SupportedVersions returns the known protocol versions in ascending order.
func SupportedVersions() []int32 {
	out := make([]int32, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func buildVersions() map[int32]*Table {
	v0 := version0()
	v17 := version17(v0)
	v18 := v17.Clone(18) // Beta 1.9pre1, no format changes.
	v19 := version19(v18)
	v20 := version20(v19)
	v21 := version21(v20)
	return map[int32]*Table{0: v0, 17: v17, 18: v18, 19: v19, 20: v20, 21: v21}
}

func version0() *Table {
	t := NewTable(0, String16)
	t.Define(Upstream, LoginDef("Login Request",
		F("username", String16),
		F("nu1", Long),
		F("nu2", Int),
		F("nu3", Byte),
		F("nu4", Byte),
		F("nu5", UnsignedByte),
		F("nu6", UnsignedByte)))
	t.Define(Downstream, Def(TypeLogin, "Login Response",
		F("eid", Int),
		F("reserved", String16),
		F("map_seed", Long),
		F("server_mode", Int),
		F("dimension", Byte),
		F("difficulty", Byte),
		F("world_height", UnsignedByte),
		F("max_players", UnsignedByte)))
	t.Define(Upstream, Def(TypeHandshake, "Handshake", F("username", String16)))
	t.Define(Downstream, Def(TypeHandshake, "Handshake", F("hash", String16)))
	t.Define(Upstream, Def(TypeServerPing, "Server List Ping"))
	t.DefineBoth(Def(TypeDisconnect, "Disconnect/Kick", F("reason", String16)))
	return t
}

// version17 corresponds to Beta 1.8.
func version17(base *Table) *Table {
	t := base.Clone(17)
	s := t.String

	t.DefineBoth(Def(TypeKeepAlive, "Keep Alive", F("id", Int)))
	t.DefineBoth(Def(TypeChat, "Chat", F("chat_msg", s)))
	t.Define(Downstream, Def(0x04, "Time", F("time", Long)))
	t.DefineBoth(Def(0x05, "Entity Equipment Spawn",
		F("eid", Int), F("slot", Short), F("item_id", Short), F("unknown", Short)))
	t.Define(Downstream, Def(0x06, "Spawn position",
		F("x", Int), F("y", Int), F("z", Int)))
	t.Define(Upstream, Def(0x07, "Use entity",
		F("eid", Int), F("target_eid", Int), F("left_click", Bool)))
	t.Define(Downstream, Def(0x08, "Update health",
		F("health", Short), F("food", Short), F("food_saturation", Float)))
	t.DefineBoth(Def(0x09, "Respawn",
		F("world", Byte), F("difficulty", Byte), F("mode", Byte),
		F("world_height", Short), F("map_seed", Long)))
	t.Define(Upstream, Def(0x0a, "Player state", F("on_ground", Bool)))
	t.DefineBoth(Def(0x0b, "Player position",
		F("x", Double), F("y", Double), F("stance", Double), F("z", Double), F("on_ground", Bool)))
	t.Define(Upstream, Def(0x0c, "Player look",
		F("yaw", Float), F("pitch", Float), F("on_ground", Bool)))
	// stance and y are swapped between the two directions.
	t.Define(Upstream, Def(0x0d, "Player position and look",
		F("x", Double), F("y", Double), F("stance", Double), F("z", Double),
		F("yaw", Float), F("pitch", Float), F("on_ground", Bool)))
	t.Define(Downstream, Def(0x0d, "Player position and look",
		F("x", Double), F("stance", Double), F("y", Double), F("z", Double),
		F("yaw", Float), F("pitch", Float), F("on_ground", Bool)))
	t.DefineBoth(Def(0x0e, "Digging",
		F("status", Byte), F("x", Int), F("y", Byte), F("z", Int), F("face", Byte)))
	t.DefineBoth(blockPlacement(SlotData))
	t.DefineBoth(Def(0x10, "Held item selection", F("slot_id", Short)))
	t.Define(Downstream, Def(0x11, "Use bed",
		F("eid", Int), F("in_bed", Bool), F("x", Int), F("y", Byte), F("z", Int)))
	t.DefineBoth(Def(0x12, "Change animation", F("eid", Int), F("animation", Byte)))
	t.DefineBoth(Def(0x13, "Entity action", F("eid", Int), F("action", Byte)))
	t.Define(Downstream, Def(0x14, "Entity spawn",
		F("eid", Int), F("name", s), F("x", Int), F("y", Int), F("z", Int),
		F("rotation", Byte), F("pitch", Byte), F("curr_item", Short)))
	t.DefineBoth(Def(0x15, "Pickup spawn",
		F("eid", Int), F("item", Short), F("count", Byte), F("data", Short),
		F("x", Int), F("y", Int), F("z", Int),
		F("rotation", Byte), F("pitch", Byte), F("roll", Byte)))
	t.Define(Downstream, Def(0x16, "Collect item", F("item_eid", Int), F("collector_eid", Int)))
	t.Define(Downstream, Def(0x17, "Add vehicle/object",
		F("eid", Int), F("type", Byte), F("x", Int), F("y", Int), F("z", Int),
		F("fireball_data", Fireball)))
	t.Define(Downstream, Def(0x18, "Mob spawn",
		F("eid", Int), F("mob_type", Byte), F("x", Int), F("y", Int), F("z", Int),
		F("yaw", Byte), F("pitch", Byte), F("metadata", MetadataList)))
	t.Define(Downstream, Def(0x19, "Painting",
		F("eid", Int), F("title", s), F("x", Int), F("y", Int), F("z", Int), F("type", Int)))
	t.Define(Downstream, Def(0x1a, "Experience orb",
		F("eid", Int), F("x", Int), F("y", Int), F("z", Int), F("count", Short)))
	t.DefineBoth(Def(0x1b, "???",
		F("d1", Float), F("d2", Float), F("d3", Float), F("d4", Float), F("d5", Bool), F("d6", Bool)))
	t.DefineBoth(Def(0x1c, "Entity velocity",
		F("eid", Int), F("vel_x", Short), F("vel_y", Short), F("vel_z", Short)))
	t.Define(Downstream, Def(0x1d, "Destroy entity", F("eid", Int)))
	t.Define(Downstream, Def(0x1e, "Entity", F("eid", Int)))
	t.Define(Downstream, Def(0x1f, "Entity relative move",
		F("eid", Int), F("dx", Byte), F("dy", Byte), F("dz", Byte)))
	t.Define(Downstream, Def(0x20, "Entity look",
		F("eid", Int), F("yaw", Byte), F("pitch", Byte)))
	t.Define(Downstream, Def(0x21, "Entity look/relative move",
		F("eid", Int), F("dx", Byte), F("dy", Byte), F("dz", Byte), F("yaw", Byte), F("pitch", Byte)))
	t.Define(Downstream, Def(0x22, "Entity teleport",
		F("eid", Int), F("x", Int), F("y", Int), F("z", Int), F("yaw", Byte), F("pitch", Byte)))
	t.Define(Downstream, Def(0x26, "Entity status", F("eid", Int), F("status", Byte)))
	t.DefineBoth(Def(0x27, "Attach entity", F("eid", Int), F("vehicle_id", Int)))
	t.DefineBoth(Def(0x28, "Entity metadata", F("eid", Int), F("metadata", MetadataList)))
	t.DefineBoth(Def(0x29, "Entity Effect",
		F("eid", Int), F("effect_id", Byte), F("aplifier", Byte), F("duration", Short)))
	t.DefineBoth(Def(0x2a, "Remove entity effect", F("eid", Int), F("effect_id", Byte)))
	t.Define(Downstream, Def(0x2b, "Experience",
		F("curr_exp", Byte), F("level", Byte), F("tot_exp", Short)))
	t.Define(Downstream, Def(0x32, "Pre-chunk", F("x", Int), F("z", Int), F("mode", Bool)))
	t.Define(Downstream, Def(0x33, "Chunk",
		F("x", Int), F("y", Short), F("z", Int),
		F("size_x", Byte), F("size_y", Byte), F("size_z", Byte), F("chunk", Chunk)))
	t.DefineBoth(Def(0x34, "Multi-block change",
		F("chunk_x", Int), F("chunk_z", Int), F("changes", MultiBlockChangeData)))
	t.DefineBoth(Def(0x35, "Block change",
		F("x", Int), F("y", Byte), F("z", Int), F("block_type", Byte), F("block_metadata", Byte)))
	t.Define(Downstream, Def(0x36, "Play note block",
		F("x", Int), F("y", Short), F("z", Int), F("instrument_type", Byte), F("pitch", Byte)))
	t.Define(Downstream, Def(0x3c, "Explosion",
		F("x", Double), F("y", Double), F("z", Double), F("unknown", Float),
		F("count", Int), F("records", Repeat("count", ExplosionRecordData))))
	t.Define(Downstream, Def(0x3d, "Sound effect",
		F("effect_id", Int), F("x", Int), F("y", Byte), F("z", Int), F("data", Int)))
	t.DefineBoth(Def(0x46, "New/Invalid State", F("reason", Byte), F("game_mode", Byte)))
	t.Define(Downstream, Def(0x47, "Weather",
		F("eid", Int), F("raining", Bool), F("x", Int), F("y", Int), F("z", Int)))
	t.Define(Downstream, Def(0x64, "Open window",
		F("window_id", Byte), F("inv_type", Byte), F("window_title", s), F("num_slots", Byte)))
	t.DefineBoth(Def(0x65, "Close window", F("window_id", Byte)))
	t.Define(Upstream, windowClick(SlotData))
	t.Define(Downstream, setSlot(SlotData))
	t.Define(Downstream, Def(0x68, "Window items", F("window_id", Byte), F("inventory", InventoryData)))
	t.Define(Downstream, Def(0x69, "Update progress bar",
		F("window_id", Byte), F("progress_bar", Short), F("value", Short)))
	t.DefineBoth(Def(0x6a, "Transaction",
		F("window_id", Byte), F("action_num", Short), F("accepted", Bool)))
	t.DefineBoth(Def(0x6b, "Creative inventory action",
		F("slot", Short), F("item_id", Short), F("quantity", Short), F("damage", Short)))
	t.DefineBoth(Def(0x82, "Update sign",
		F("x", Int), F("y", Short), F("z", Int),
		F("text1", s), F("text2", s), F("text3", s), F("text4", s)))
	t.DefineBoth(Def(0x83, "Item data",
		F("item_type", Short), F("item_id", Short), F("data", ItemData)))
	t.Define(Downstream, Def(0xc8, "Increment statistic", F("stat_id", Int), F("amount", Byte)))
	t.Define(Downstream, Def(0xc9, "Player list item",
		F("name", s), F("online", Bool), F("ping", Short)))
	return t
}

// version19 corresponds to Beta 1.9pre2: slots carry extra item data.
func version19(base *Table) *Table {
	t := base.Clone(19)
	t.DefineBoth(blockPlacement(Slot2Data))
	t.Define(Upstream, windowClick(Slot2Data))
	t.Define(Downstream, setSlot(Slot2Data))
	t.Define(Downstream, Def(0x68, "Window items", F("window_id", Byte), F("inventory", Inventory2Data)))
	return t
}

// version20 corresponds to Beta 1.9pre4.
func version20(base *Table) *Table {
	t := base.Clone(20)
	t.Define(Downstream, Def(0x2b, "Experience",
		F("curr_exp", Float), F("level", Short), F("tot_exp", Short)))
	t.Define(Upstream, Def(0x6c, "Enchant Item", F("window_id", Byte), F("enchantment", Byte)))
	return t
}

// version21 corresponds to Beta 1.9pre5.
func version21(base *Table) *Table {
	t := base.Clone(21)
	t.DefineBoth(Def(0x6b, "Creative inventory action", F("slot", Short), F("details", Slot2Data)))
	return t
}

func blockPlacement(slot Field) *MessageDef {
	return Def(0x0f, "Block placement",
		F("x", Int), F("y", Byte), F("z", Int), F("dir", Byte), F("details", slot))
}

func windowClick(slot Field) *MessageDef {
	return Def(0x66, "Window click",
		F("window_id", Byte), F("slot", Short), F("is_right_click", Bool),
		F("action_num", Short), F("shift", Bool), F("details", slot))
}

func setSlot(slot Field) *MessageDef {
	return Def(0x67, "Set slot",
		F("window_id", Byte), F("slot", Short), F("slot_update", slot))
}
