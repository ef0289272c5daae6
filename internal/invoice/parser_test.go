package invoice

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const legacyXML = `<?xml version="1.0" encoding="UTF-8"?>
<Faktura>
  <Dokument>
    <Broj>2024-001234</Broj>
    <Datum>2024-03-15</Datum>
    <Valuta>RSD</Valuta>
  </Dokument>
  <Dobavljac>
    <Naziv>SOPHARMA TRADING D.O.O.</Naziv>
  </Dobavljac>
  <Vrednosti>
    <NetoFakturna>1530,50</NetoFakturna>
  </Vrednosti>
  <Valutacije>
    <Valutacija>
      <Datum>2024-04-14</Datum>
      <Popust>2.00</Popust>
      <Vrednost>1500.00</Vrednost>
    </Valutacija>
  </Valutacije>
  <Stavke>
    <Stavka>
      <Sifra>SOP-44812</Sifra>
      <GTIN>3800010641234</GTIN>
      <Naziv>ANALGIN 500MG TBL 20</Naziv>
      <Kolicina>10</Kolicina>
      <CenaFakturna>123,45</CenaFakturna>
      <RabatProcenat>5</RabatProcenat>
      <PorezProcenat>10</PorezProcenat>
      <BrojSerije>L2403A</BrojSerije>
      <RokUpotrebe>2026-03-01</RokUpotrebe>
    </Stavka>
    <Stavka>
      <Sifra>SOP-77120</Sifra>
      <Naziv>VITAMIN C AMP 5ML</Naziv>
      <Kolicina>4</Kolicina>
      <CenaFakturna>88.00</CenaFakturna>
      <RabatProcenat>0</RabatProcenat>
      <BrojSerije>0000</BrojSerije>
      <RokUpotrebe>0000-00-00</RokUpotrebe>
    </Stavka>
  </Stavke>
</Faktura>`

const ublXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
         xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
         xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>IF-2024-556</cbc:ID>
  <cbc:IssueDate>2024-05-02</cbc:IssueDate>
  <cbc:DueDate>2024-06-01</cbc:DueDate>
  <cac:AccountingSupplierParty>
    <cac:Party>
      <cac:PartyLegalEntity>
        <cbc:RegistrationName>VEGA DOO VALJEVO</cbc:RegistrationName>
      </cac:PartyLegalEntity>
    </cac:Party>
  </cac:AccountingSupplierParty>
  <cac:LegalMonetaryTotal>
    <cbc:TaxExclusiveAmount currencyID="RSD">250.00</cbc:TaxExclusiveAmount>
    <cbc:PayableAmount currencyID="RSD">300.00</cbc:PayableAmount>
  </cac:LegalMonetaryTotal>
  <cac:InvoiceLine>
    <cbc:ID>1</cbc:ID>
    <cbc:InvoicedQuantity unitCode="H87">5</cbc:InvoicedQuantity>
    <cac:AllowanceCharge>
      <cbc:MultiplierFactorNumeric>10</cbc:MultiplierFactorNumeric>
    </cac:AllowanceCharge>
    <cac:Item>
      <cbc:Name>PROBIOTIK CPS A30</cbc:Name>
      <cac:SellersItemIdentification>
        <cbc:ID>VG-1001</cbc:ID>
      </cac:SellersItemIdentification>
      <cac:StandardItemIdentification>
        <cbc:ID schemeID="0160">8606103459817</cbc:ID>
      </cac:StandardItemIdentification>
      <cac:ClassifiedTaxCategory>
        <cbc:Percent>20</cbc:Percent>
      </cac:ClassifiedTaxCategory>
    </cac:Item>
    <cac:Price>
      <cbc:PriceAmount currencyID="RSD">50.00</cbc:PriceAmount>
    </cac:Price>
  </cac:InvoiceLine>
</Invoice>`

func TestParseLegacyDialect(t *testing.T) {
	p := NewParser(decimal.NewFromInt(10))
	header, lines, err := p.ParseBytes([]byte(legacyXML))
	require.NoError(t, err)

	require.Equal(t, "2024-001234", header.InvoiceNumber)
	require.NotNil(t, header.IssueDate)
	require.Equal(t, "2024-03-15", header.IssueDate.Format("2006-01-02"))
	require.Equal(t, "SOPHARMA TRADING D.O.O.", header.SupplierName)
	require.Equal(t, "1530.50", header.TotalNet.StringFixed(2))
	require.NotNil(t, header.DueDate)
	require.Equal(t, "1500.00", header.PayableAmount.StringFixed(2))
	require.Equal(t, "2.00", header.CashDiscount.StringFixed(2))
	require.Equal(t, "RSD", header.Currency)

	require.Len(t, lines, 2)
	require.Equal(t, "3800010641234", lines[0].Barcode)
	require.Equal(t, "123.45", lines[0].UnitPrice.StringFixed(2))
	require.Equal(t, "L2403A", lines[0].Batch)
	require.NotNil(t, lines[0].Expiry)

	// sentinel batch/expiry normalize away, absent VAT uses the default
	require.Empty(t, lines[1].Batch)
	require.Nil(t, lines[1].Expiry)
	require.Empty(t, lines[1].Barcode)
	require.Equal(t, "10", lines[1].VATPct.StringFixed(0))
}

func TestParseUBLDialect(t *testing.T) {
	p := NewParser(decimal.NewFromInt(10))
	header, lines, err := p.ParseBytes([]byte(ublXML))
	require.NoError(t, err)

	require.Equal(t, "IF-2024-556", header.InvoiceNumber)
	require.Equal(t, "VEGA DOO VALJEVO", header.SupplierName)
	require.Equal(t, "250.00", header.TotalNet.StringFixed(2))
	require.Equal(t, "300.00", header.PayableAmount.StringFixed(2))
	require.NotNil(t, header.DueDate)
	require.Equal(t, "2024-06-01", header.DueDate.Format("2006-01-02"))
	// no cbc:DocumentCurrencyCode in this feed, the currencyID on the
	// payable total fills in
	require.Equal(t, "RSD", header.Currency)

	require.Len(t, lines, 1)
	line := lines[0]
	require.Equal(t, "VG-1001", line.SupplierCode)
	require.Equal(t, "8606103459817", line.Barcode)
	require.Equal(t, "PROBIOTIK CPS A30", line.Name)
	require.Equal(t, "5", line.Quantity.StringFixed(0))
	require.Equal(t, "50.00", line.UnitPrice.StringFixed(2))
	require.Equal(t, "10", line.DiscountPct.StringFixed(0))
	require.Equal(t, "20", line.VATPct.StringFixed(0))
}

func TestParseMalformedXML(t *testing.T) {
	p := NewParser(decimal.NewFromInt(10))
	_, _, err := p.ParseBytes([]byte("<Faktura><Dokument>"))
	require.ErrorIs(t, err, ErrParse)
}

func TestParseCommaDecimal(t *testing.T) {
	require.Equal(t, "12.34", parseDecimal("12,34", decimal.Zero).StringFixed(2))
	require.Equal(t, "7.00", parseDecimal("garbage", decimal.NewFromInt(7)).StringFixed(2))
}
