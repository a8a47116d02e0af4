package ble

import "github.com/google/uuid"

// UUID identifies a GATT service or characteristic.
type UUID = uuid.UUID

// baseUUID is the Bluetooth SIG base, 0000xxxx-0000-1000-8000-00805F9B34FB.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ShortUUID expands a 16-bit assigned number onto the Bluetooth base UUID.
func ShortUUID(short uint16) UUID {
	u := baseUUID
	u[2] = byte(short >> 8)
	u[3] = byte(short)
	return u
}
