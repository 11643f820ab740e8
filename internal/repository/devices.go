package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// SubDeviceByBLEAddr looks up the sub-device registry by BLE address.
func (s *Store) SubDeviceByBLEAddr(ctx context.Context, bleAddr string) (*model.SubDevice, error) {
	var sd model.SubDevice
	if err := decodeOne(s.db.Collection(collSubDevices).FindOne(ctx, bson.M{"ble_addr": bleAddr}), &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

// WatchByIMEI looks up the watch registry.
func (s *Store) WatchByIMEI(ctx context.Context, imei string) (*model.WatchDevice, error) {
	var w model.WatchDevice
	if err := decodeOne(s.db.Collection(collWatches).FindOne(ctx, bson.M{"imei": imei}), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// GatewayByMAC looks up the gateway-box registry.
func (s *Store) GatewayByMAC(ctx context.Context, mac string) (*model.GatewayBox, error) {
	var g model.GatewayBox
	if err := decodeOne(s.db.Collection(collGateways).FindOne(ctx, bson.M{"mac_address": mac}), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// HospitalByID loads one hospital record.
func (s *Store) HospitalByID(ctx context.Context, id string) (*model.Hospital, error) {
	var h model.Hospital
	if err := decodeOne(s.db.Collection(collHospitals).FindOne(ctx, bson.M{"_id": id}), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// HospitalByGatewayMAC finds the hospital associated with a gateway or
// kiosk MAC through the hospital record's box binding.
func (s *Store) HospitalByGatewayMAC(ctx context.Context, mac string) (*model.Hospital, error) {
	var h model.Hospital
	if err := decodeOne(s.db.Collection(collHospitals).FindOne(ctx, bson.M{"mac_hv01_box": mac}), &h); err != nil {
		return nil, err
	}
	return &h, nil
}
