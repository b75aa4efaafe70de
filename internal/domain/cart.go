package domain

import (
	"fmt"
	"strings"
	"time"
)

// CartItem mirrors what the storefront keeps per line. Price is the display
// string shown in the catalog and is converted to minor units only at checkout.
type CartItem struct {
	ProductID string `json:"product_id" firestore:"productId"`
	Name      string `json:"name,omitempty" firestore:"name"`
	Size      string `json:"size" firestore:"size"`
	Quantity  int    `json:"quantity" firestore:"quantity"`
	Price     string `json:"price" firestore:"price"`
	Image     string `json:"image,omitempty" firestore:"image"`
}

type Cart struct {
	OwnerKey  string     `json:"owner_key"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Cart) index(productID, size string) int {
	for i, item := range c.Items {
		if item.ProductID == productID && item.Size == size {
			return i
		}
	}
	return -1
}

// Add merges item into an existing line with the same product and size.
func (c *Cart) Add(item CartItem) {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if i := c.index(item.ProductID, item.Size); i >= 0 {
		c.Items[i].Quantity += item.Quantity
		return
	}
	c.Items = append(c.Items, item)
}

func (c *Cart) Remove(productID, size string) {
	if i := c.index(productID, size); i >= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	}
}

// SetQuantity removes the line when quantity drops to zero or below.
func (c *Cart) SetQuantity(productID, size string, quantity int) {
	if quantity <= 0 {
		c.Remove(productID, size)
		return
	}
	if i := c.index(productID, size); i >= 0 {
		c.Items[i].Quantity = quantity
	}
}

func (c *Cart) Clear() {
	c.Items = nil
}

// Normalize folds duplicate (product, size) lines together and drops empty ones.
func (c *Cart) Normalize() error {
	items := c.Items
	c.Items = nil
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Size = strings.TrimSpace(item.Size)
		if item.ProductID == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "is required"}
		}
		if item.Size == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].size", i), Reason: "is required"}
		}
		if item.Quantity <= 0 {
			continue
		}
		c.Add(item)
	}
	return nil
}
