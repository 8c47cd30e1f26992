package models

// CameraMapping links a camera to the product type shelved in front of it.
type CameraMapping struct {
	CameraID    int    `json:"camera_id" yaml:"camera_id" db:"camera_id"`
	ProductType string `json:"product_type" yaml:"product_type" db:"product_type"`
}

// ProductType maps a product type to its reporting category.
type ProductType struct {
	ProductType string `json:"product_type" yaml:"product_type" db:"product_type"`
	Category    string `json:"category" yaml:"category" db:"product_category"`
}
