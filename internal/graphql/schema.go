// Package graphql serves a read-only GraphQL view of partners, orders and the
// caller's wallet.
package graphql

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

const schemaSDL = `
scalar Time

type Query {
  partners: [Partner!]!
  wallet: Wallet!
  order(id: ID!): Order
  orders(status: String, limit: Int = 20, offset: Int = 0): [Order!]!
}

type Partner {
  name: String!
}

type Wallet {
  userId: ID!
  balance: String!
  currency: String!
  updatedAt: Time!
  transactions(limit: Int = 20): [Transaction!]!
}

type Transaction {
  id: ID!
  kind: String!
  amount: String!
  balanceAfter: String!
  description: String!
  orderRef: String
  createdAt: Time!
}

type Order {
  id: ID!
  orderNumber: String!
  partner: String!
  serviceType: String!
  status: String!
  paymentStatus: String!
  bookingState: String!
  amount: String!
  currency: String!
  trackingId: String
  trackingUrl: String
  estimatedDelivery: Time
  weightKg: Float!
  pickup: Address!
  delivery: Address!
  history: [StatusEntry!]!
  createdAt: Time!
  updatedAt: Time!
}

type Address {
  name: String!
  city: String!
  state: String!
  pincode: String!
}

type StatusEntry {
  status: String!
  partnerStatus: String
  location: String
  remarks: String
  source: String!
  at: Time!
}
`

// Schema is the parsed schema queries are validated against.
var Schema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSDL})
