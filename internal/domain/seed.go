package domain

// SeedEntries is the fixed demo data set inserted by the seed operation.
// Two customers share product 456, so a seeded shop reports four items and
// three customers.
var SeedEntries = []ItemKey{
	{CustomerID: "123", ProductID: "456"},
	{CustomerID: "123", ProductID: "789"},
	{CustomerID: "456", ProductID: "456"},
	{CustomerID: "789", ProductID: "123"},
}
