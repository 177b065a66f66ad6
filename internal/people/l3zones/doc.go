// Package l3zones owns Layer 3 (Zones) of the people data model.
//
// Responsibilities: zone polygon configuration, per-person inside/outside
// state per zone, entry/exit events with dwell time, forced closure on
// track retirement, instantaneous occupancy levels and zone summaries.
// Key types: ZoneDefinition, Engine, ZoneEvent, ZoneStatus.
//
// Ghost tracks hold their records: a person occluded inside a zone is not
// exited until the track retires or reappears outside.
//
// Dependency rule: L3 may depend on L1 and L2 types, but never on L4.
// No SQL/database code is allowed in this package.
package l3zones
